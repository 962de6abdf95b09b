package mutation

import (
	"context"
	"errors"
	"testing"

	"feedsync/internal/feed"
	"feedsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFetcher map[models.FeedType][]*models.Item

func (f fixedFetcher) FetchFeed(_ context.Context, ft models.FeedType, _ models.Query) (*models.FeedPage, error) {
	return &models.FeedPage{Items: f[ft], NextCursor: "next"}, nil
}

func item(id string, likes int, liked bool) *models.Item {
	return &models.Item{ID: id, Title: "post " + id, LikeCount: likes, LikedByCurrentUser: liked, Version: 1}
}

// loadedRegistry fills following, search and profile; X ("x") sits in following and search.
func loadedRegistry(t *testing.T) *feed.Registry {
	t.Helper()
	reg := feed.NewRegistry(nil)
	ctrl := feed.NewController(reg, fixedFetcher{
		models.FeedFollowing: {item("a", 0, false), item("x", 3, false), item("b", 1, true)},
		models.FeedSearch:    {item("x", 3, false), item("c", 0, false)},
		models.FeedProfile:   {item("d", 7, false)},
	}, feed.ControllerOptions{})
	ctx := context.Background()
	for ft, f := range map[models.FeedType]models.Filter{
		models.FeedFollowing: {},
		models.FeedSearch:    {Search: "kitchen"},
		models.FeedProfile:   {AuthorID: "u1"},
	} {
		_, err := ctrl.FetchInitial(ctx, ft, f, false)
		require.NoError(t, err)
	}
	return reg
}

func find(reg *feed.Registry, ft models.FeedType, id string) *models.Item {
	for _, it := range reg.Items(ft) {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func TestSubscriptions_EveryFeedEveryKind(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindLike, KindEdit, KindDelete} {
		assert.Equal(t, models.AllFeedTypes, Subscriptions.Feeds(k), k)
	}
}

func TestApplyLike_ConsistentAcrossFeeds(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	prop := NewPropagator(reg, nil)

	assert.Equal(t, 2, prop.ApplyLike("x", true))

	for _, ft := range []models.FeedType{models.FeedFollowing, models.FeedSearch} {
		x := find(reg, ft, "x")
		require.NotNil(t, x, ft)
		assert.Equal(t, 4, x.LikeCount, ft)
		assert.True(t, x.LikedByCurrentUser, ft)
	}
	assert.Equal(t, 7, find(reg, models.FeedProfile, "d").LikeCount)
	assert.Equal(t, 0, find(reg, models.FeedFollowing, "a").LikeCount)

	assert.Equal(t, 0, prop.ApplyLike("x", true), "same result twice must not double count")
	assert.Equal(t, 4, find(reg, models.FeedSearch, "x").LikeCount)
}

func TestApplyLike_ClampsAtZero(t *testing.T) {
	t.Parallel()
	reg := feed.NewRegistry(nil)
	ctrl := feed.NewController(reg, fixedFetcher{
		models.FeedFollowing: {item("z", 0, true)},
	}, feed.ControllerOptions{})
	_, err := ctrl.FetchInitial(context.Background(), models.FeedFollowing, models.Filter{}, false)
	require.NoError(t, err)

	NewPropagator(reg, nil).ApplyLike("z", false)

	z := find(reg, models.FeedFollowing, "z")
	assert.Equal(t, 0, z.LikeCount)
	assert.False(t, z.LikedByCurrentUser)
}

func TestApplyLike_UnsubscribedFeedStaysStale(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	prop := NewPropagator(reg, Table{KindLike: {models.FeedFollowing: true}})

	assert.Equal(t, 1, prop.ApplyLike("x", true))
	assert.Equal(t, 4, find(reg, models.FeedFollowing, "x").LikeCount)
	assert.Equal(t, 3, find(reg, models.FeedSearch, "x").LikeCount)
}

func TestApplyLike_OpenItem(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	reg.SetOpenItem(item("x", 3, false))

	NewPropagator(reg, nil).ApplyLike("x", true)
	assert.Equal(t, 4, reg.OpenItem().LikeCount)
}

func TestApplyEdit_ReplacesInPlace(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	reg.SetOpenItem(item("x", 3, false))
	prop := NewPropagator(reg, nil)

	edited := item("x", 3, false)
	edited.Title = "new title"
	edited.Version = 2
	assert.Equal(t, 2, prop.ApplyEdit(edited))

	assert.Equal(t, []string{"a", "x", "b"}, idsOf(reg.Items(models.FeedFollowing)))
	assert.Equal(t, "new title", find(reg, models.FeedFollowing, "x").Title)
	assert.Equal(t, "new title", find(reg, models.FeedSearch, "x").Title)
	assert.Equal(t, int64(2), reg.OpenItem().Version)
	assert.Len(t, reg.Items(models.FeedProfile), 1)

	older := item("x", 3, false)
	older.Title = "late response"
	assert.Equal(t, 0, prop.ApplyEdit(older), "an older version never overwrites a newer copy")
	assert.Equal(t, "new title", reg.OpenItem().Title)
}

func TestApplyDelete_RemovesEverywhere(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	reg.SetOpenItem(item("x", 3, false))
	prop := NewPropagator(reg, nil)

	assert.Equal(t, 2, prop.ApplyDelete("x"))
	assert.Nil(t, find(reg, models.FeedFollowing, "x"))
	assert.Nil(t, find(reg, models.FeedSearch, "x"))
	assert.Nil(t, reg.OpenItem())
	assert.Equal(t, []string{"a", "b"}, idsOf(reg.Items(models.FeedFollowing)))

	assert.Equal(t, 0, prop.ApplyDelete("x"))
}

func TestApplyDelete_KeepsUnrelatedOpenItem(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	reg.SetOpenItem(item("d", 7, false))

	NewPropagator(reg, nil).ApplyDelete("x")
	require.NotNil(t, reg.OpenItem())
	assert.Equal(t, "d", reg.OpenItem().ID)
}

func idsOf(list []*models.Item) []string {
	out := make([]string, len(list))
	for i, it := range list {
		out[i] = it.ID
	}
	return out
}

// writerStub is a stub for ItemWriter.
type writerStub struct {
	toggleLikeFn func(ctx context.Context, id string) (bool, error)
	updateItemFn func(ctx context.Context, id string, patch models.ItemPatch) (*models.Item, error)
	deleteItemFn func(ctx context.Context, id string) error
}

func (s *writerStub) ToggleLike(ctx context.Context, id string) (bool, error) {
	return s.toggleLikeFn(ctx, id)
}

func (s *writerStub) UpdateItem(ctx context.Context, id string, patch models.ItemPatch) (*models.Item, error) {
	return s.updateItemFn(ctx, id, patch)
}

func (s *writerStub) DeleteItem(ctx context.Context, id string) error {
	return s.deleteItemFn(ctx, id)
}

func TestService_FailedMutationsApplyNothing(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	networkErr := models.NewNetworkError(errors.New("dial tcp: connection refused"))
	svc := NewService(&writerStub{
		toggleLikeFn: func(context.Context, string) (bool, error) { return false, networkErr },
		updateItemFn: func(_ context.Context, id string, p models.ItemPatch) (*models.Item, error) {
			return nil, models.NewVersionConflictError(id, p.Version)
		},
		deleteItemFn: func(context.Context, string) error { return networkErr },
	}, NewPropagator(reg, nil))
	ctx := context.Background()
	before := reg.Items(models.FeedFollowing)

	_, err := svc.ToggleLike(ctx, "x")
	assert.ErrorIs(t, err, networkErr)

	title := "edited"
	_, err = svc.EditItem(ctx, "x", models.ItemPatch{Title: &title, Version: 1})
	assert.True(t, models.IsVersionConflict(err))

	err = svc.DeleteItem(ctx, "x")
	assert.Equal(t, models.CodeNetworkFailure, models.ErrorCode(err))

	assert.Equal(t, before, reg.Items(models.FeedFollowing))
}

func TestService_SuccessfulMutationsPropagate(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	var deleted string
	svc := NewService(&writerStub{
		toggleLikeFn: func(context.Context, string) (bool, error) { return true, nil },
		updateItemFn: func(_ context.Context, id string, p models.ItemPatch) (*models.Item, error) {
			out := item(id, 4, true)
			out.Title = *p.Title
			out.Version = p.Version + 1
			return out, nil
		},
		deleteItemFn: func(_ context.Context, id string) error { deleted = id; return nil },
	}, NewPropagator(reg, nil))
	ctx := context.Background()

	liked, err := svc.ToggleLike(ctx, "x")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 4, find(reg, models.FeedSearch, "x").LikeCount)

	title := "renamed"
	got, err := svc.EditItem(ctx, "x", models.ItemPatch{Title: &title, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "renamed", find(reg, models.FeedFollowing, "x").Title)

	require.NoError(t, svc.DeleteItem(ctx, "b"))
	assert.Equal(t, "b", deleted)
	assert.Nil(t, find(reg, models.FeedFollowing, "b"))
}

func TestService_DeleteOfMissingItemStillPropagates(t *testing.T) {
	t.Parallel()
	reg := loadedRegistry(t)
	calls := 0
	svc := NewService(&writerStub{
		deleteItemFn: func(_ context.Context, id string) error {
			calls++
			return models.NewNotFoundError("Post", id)
		},
	}, NewPropagator(reg, nil))
	ctx := context.Background()

	require.NoError(t, svc.DeleteItem(ctx, "x"))
	assert.Nil(t, find(reg, models.FeedFollowing, "x"))
	assert.Nil(t, find(reg, models.FeedSearch, "x"))

	require.NoError(t, svc.DeleteItem(ctx, "x"), "deleting twice is a no-op")
	assert.Equal(t, 2, calls)
	assert.Len(t, reg.Items(models.FeedFollowing), 2)
}

func TestService_ValidationBeforeRequest(t *testing.T) {
	t.Parallel()
	svc := NewService(&writerStub{}, NewPropagator(feed.NewRegistry(nil), nil))
	empty := ""

	_, err := svc.EditItem(context.Background(), "x", models.ItemPatch{Title: &empty, Version: 1})
	assert.True(t, models.IsValidation(err))
	_, err = svc.ToggleLike(context.Background(), " ")
	assert.True(t, models.IsValidation(err))
	assert.True(t, models.IsValidation(svc.DeleteItem(context.Background(), "")))
}
