package contentapi

import (
	"strings"

	"feedsync/internal/middleware"
	"feedsync/internal/models"
	"feedsync/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// LikeResponse is the body returned by a like toggle.
type LikeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

// CreatePostRequest is the body of POST /api/posts.
type CreatePostRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags,omitempty"`
	Images []string `json:"images,omitempty"`
}

// parseFilter reads the non-pagination query parameters.
func parseFilter(c *fiber.Ctx) models.Filter {
	f := models.Filter{
		Sort:      c.Query("sort"),
		Following: c.QueryBool("following", false),
		Mentioned: c.QueryBool("mentioned", false),
		Search:    c.Query("q"),
	}
	if raw := c.Query("roles"); raw != "" {
		f.Roles = strings.Split(raw, ",")
	}
	return f.Normalize()
}

func (s *Server) listFeed(c *fiber.Ctx, ft models.FeedType, f models.Filter) error {
	if err := f.Validate(ft); err != nil {
		return models.Respond(c, err)
	}
	page, err := s.postRepo.List(c.UserContext(), repository.ListQuery{
		Filter:   f,
		Limit:    c.QueryInt("limit", repository.DefaultPageLimit),
		Cursor:   c.Query("cursor"),
		ViewerID: middleware.UserID(c),
	})
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(page)
}

// ListPosts handles GET /api/posts
func (s *Server) ListPosts(c *fiber.Ctx) error {
	return s.listFeed(c, models.FeedPublic, parseFilter(c))
}

// SearchPosts handles GET /api/posts/search?q=...
func (s *Server) SearchPosts(c *fiber.Ctx) error {
	return s.listFeed(c, models.FeedSearch, parseFilter(c))
}

// FollowingFeed handles GET /api/feed/following
func (s *Server) FollowingFeed(c *fiber.Ctx) error {
	f := parseFilter(c)
	f.Following = true
	return s.listFeed(c, models.FeedFollowing, f)
}

// UserPosts handles GET /api/users/:id/posts
func (s *Server) UserPosts(c *fiber.Ctx) error {
	f := parseFilter(c)
	f.AuthorID = c.Params("id")
	return s.listFeed(c, models.FeedProfile, f)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postRepo.GetByID(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if req.Title == "" || req.Body == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Title and body are required"))
	}

	userID := middleware.UserID(c)
	post := &models.Item{
		AuthorID:   userID,
		AuthorName: userID,
		AuthorRole: "member",
		Title:      req.Title,
		Body:       req.Body,
		Tags:       req.Tags,
		Images:     req.Images,
	}
	ctx := c.UserContext()
	if err := s.postRepo.Create(ctx, post); err != nil {
		return models.Respond(c, err)
	}
	created, err := s.postRepo.GetByID(ctx, post.ID, userID)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// requireAuthor loads the post and rejects callers other than its author.
func (s *Server) requireAuthor(c *fiber.Ctx, postID string) error {
	post, err := s.postRepo.GetByID(c.UserContext(), postID, middleware.UserID(c))
	if err != nil {
		return err
	}
	if post.AuthorID != middleware.UserID(c) {
		return errNotAuthor
	}
	return nil
}

var errNotAuthor = models.NewForbiddenError("Only the author can change this")

// UpdatePost handles PUT /api/posts/:id. The body carries the version the
// caller last saw; a stale version is a 409.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var patch models.ItemPatch
	if err := c.BodyParser(&patch); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if err := patch.Validate(); err != nil {
		return models.Respond(c, err)
	}
	id := c.Params("id")
	if err := s.requireAuthor(c, id); err != nil {
		return models.Respond(c, err)
	}
	updated, err := s.postRepo.Update(c.UserContext(), id, patch, middleware.UserID(c))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(updated)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.requireAuthor(c, id); err != nil {
		return models.Respond(c, err)
	}
	if err := s.postRepo.Delete(c.UserContext(), id); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleLike handles POST /api/posts/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	liked, count, err := s.postRepo.ToggleLike(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(LikeResponse{Liked: liked, LikeCount: count})
}

// ListComments handles GET /api/posts/:id/comments
func (s *Server) ListComments(c *fiber.Ctx) error {
	page, err := s.commentRepo.ListByPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(page)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var in models.NewCommentInput
	if err := c.BodyParser(&in); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	in.Body = strings.TrimSpace(in.Body)
	if err := in.Validate(); err != nil {
		return models.Respond(c, err)
	}

	userID := middleware.UserID(c)
	comment := &models.Comment{
		PostID:     c.Params("id"),
		AuthorID:   userID,
		AuthorName: userID,
		Body:       in.Body,
	}
	if in.ParentID != "" {
		parentID := in.ParentID
		comment.ParentID = &parentID
	}
	if err := s.commentRepo.Create(c.UserContext(), comment); err != nil {
		return models.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:id
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	comment, err := s.commentRepo.GetByID(ctx, c.Params("id"))
	if err != nil {
		return models.Respond(c, err)
	}
	if comment.AuthorID != middleware.UserID(c) {
		return models.Respond(c, errNotAuthor)
	}
	if err := s.commentRepo.Delete(ctx, comment.ID); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Follow handles POST /api/users/:id/follow
func (s *Server) Follow(c *fiber.Ctx) error {
	if err := s.followRepo.Follow(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unfollow handles DELETE /api/users/:id/follow
func (s *Server) Unfollow(c *fiber.Ctx) error {
	if err := s.followRepo.Unfollow(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
