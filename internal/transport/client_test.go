package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appTransport routes client requests into a fiber app without a socket.
type appTransport struct{ app *fiber.App }

func (t appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.app.Test(req, -1)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp 10.0.0.1:8081: connection refused")
}

func newTestClient(app *fiber.App, token string) *Client {
	return NewClient("http://content.test/", WithTransport(appTransport{app}), WithToken(func() string { return token }))
}

func TestFetchFeed_RoutesAndQuery(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	seen := map[string]string{}
	handler := func(c *fiber.Ctx) error {
		seen[c.Path()] = string(c.Request().URI().QueryString())
		return c.JSON(models.FeedPage{Items: []*models.Item{{ID: "1"}}, NextCursor: "n"})
	}
	app.Get("/api/posts", handler)
	app.Get("/api/feed/following", handler)
	app.Get("/api/posts/search", handler)
	app.Get("/api/users/:id/posts", handler)

	c := newTestClient(app, "")
	ctx := context.Background()

	tests := []struct {
		ft    models.FeedType
		q     models.Query
		path  string
		query string
	}{
		{models.FeedPublic, models.Query{Limit: 20, Filter: models.Filter{Sort: "new"}}, "/api/posts", "limit=20&sort=new"},
		{models.FeedFollowing, models.Query{Limit: 5, Cursor: "abc", Filter: models.Filter{Following: true, Roles: []string{"admin", "creator"}}}, "/api/feed/following", "cursor=abc&following=true&limit=5&roles=admin%2Ccreator"},
		{models.FeedSearch, models.Query{Filter: models.Filter{Search: "kitchen sink", Mentioned: true}}, "/api/posts/search", "mentioned=true&q=kitchen+sink"},
		{models.FeedProfile, models.Query{Filter: models.Filter{AuthorID: "u-7"}}, "/api/users/u-7/posts", ""},
	}
	for _, tc := range tests {
		page, err := c.FetchFeed(ctx, tc.ft, tc.q)
		require.NoError(t, err, tc.ft)
		assert.Equal(t, "n", page.NextCursor)
		assert.Equal(t, tc.query, seen[tc.path], tc.ft)
	}

	_, err := c.FetchFeed(ctx, models.FeedProfile, models.Query{})
	assert.True(t, models.IsValidation(err))
}

func TestClient_ForwardsBearerToken(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	var auth string
	app.Post("/api/posts/:id/like", func(c *fiber.Ctx) error {
		auth = c.Get(fiber.HeaderAuthorization)
		return c.JSON(LikeResponse{Liked: true, LikeCount: 4})
	})

	liked, err := newTestClient(app, "tok").ToggleLike(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, "Bearer tok", auth)
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	app.Put("/api/posts/:id", func(c *fiber.Ctx) error {
		return c.Status(http.StatusConflict).JSON(models.ErrorResponse{Error: "stale version", Code: models.CodeVersionConflict})
	})
	app.Delete("/api/posts/:id", func(c *fiber.Ctx) error {
		return c.Status(http.StatusUnauthorized).JSON(models.ErrorResponse{Error: "Missing authorization header"})
	})
	app.Post("/api/posts/:id/comments", func(c *fiber.Ctx) error {
		return c.Status(http.StatusBadRequest).JSON(models.ErrorResponse{Error: "Content is required"})
	})
	app.Delete("/api/comments/:id", func(c *fiber.Ctx) error {
		return c.Status(http.StatusBadGateway).SendString("upstream down")
	})

	c := newTestClient(app, "tok")
	ctx := context.Background()
	title := "x"

	_, err := c.UpdateItem(ctx, "p1", models.ItemPatch{Title: &title, Version: 1})
	assert.True(t, models.IsVersionConflict(err))

	err = c.DeleteItem(ctx, "p1")
	assert.True(t, models.IsNotAuthenticated(err))

	_, err = c.CreateComment(ctx, "p1", "", "")
	assert.True(t, models.IsValidation(err))

	err = c.DeleteComment(ctx, "c1")
	assert.Equal(t, models.CodeNetworkFailure, models.ErrorCode(err))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_TransportFailureIsNetworkFailure(t *testing.T) {
	t.Parallel()
	c := NewClient("http://content.test", WithTransport(failingTransport{}))
	_, err := c.FetchComments(context.Background(), "p1")
	assert.Equal(t, models.CodeNetworkFailure, models.ErrorCode(err))
}

func TestClient_CommentsRoundTrip(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	app.Get("/api/posts/:id/comments", func(c *fiber.Ctx) error {
		return c.JSON(models.CommentPage{Comments: []*models.Comment{{ID: "c1", PostID: c.Params("id")}}, CommentCount: 1})
	})
	app.Post("/api/posts/:id/comments", func(c *fiber.Ctx) error {
		var in models.NewCommentInput
		if err := c.BodyParser(&in); err != nil {
			return err
		}
		parent := in.ParentID
		return c.Status(http.StatusCreated).JSON(models.Comment{ID: "c2", PostID: c.Params("id"), Body: in.Body, ParentID: &parent})
	})
	app.Delete("/api/comments/:id", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	c := newTestClient(app, "tok")
	ctx := context.Background()

	page, err := c.FetchComments(ctx, "p9")
	require.NoError(t, err)
	assert.Equal(t, "p9", page.Comments[0].PostID)

	created, err := c.CreateComment(ctx, "p9", "hi", "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", created.Body)
	assert.Equal(t, "c1", *created.ParentID)

	require.NoError(t, c.DeleteComment(ctx, "c2"))
}
