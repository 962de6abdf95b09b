package feed

import (
	"context"
	"sync"
	"testing"

	"feedsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func primed(t *testing.T, ft models.FeedType, filter models.Filter, list ...string) (*Registry, *recorder) {
	t.Helper()
	bus := NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.record)
	reg := NewRegistry(bus)
	ctrl := NewController(reg, pagedFetcher(map[string]*models.FeedPage{
		"": {Items: items(list...), NextCursor: "c1"},
	}), ControllerOptions{})
	_, err := ctrl.FetchInitial(context.Background(), ft, filter, false)
	require.NoError(t, err)
	return reg, rec
}

func TestRegistry_UnknownFeedType(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(nil)
	_, err := reg.View("bookmarks")
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, reg.Items("bookmarks"))
}

func TestRegistry_FetchPublishesLoadingThenReplaced(t *testing.T) {
	t.Parallel()
	_, rec := primed(t, models.FeedFollowing, models.Filter{}, "1", "2")
	assert.Equal(t, []EventKind{EventFeedLoading, EventFeedReplaced}, rec.kinds())
}

func TestRegistry_ViewIsACopy(t *testing.T) {
	t.Parallel()
	reg, _ := primed(t, models.FeedFollowing, models.Filter{}, "1")

	v, err := reg.View(models.FeedFollowing)
	require.NoError(t, err)
	v.Items[0].Title = "mutated by reader"

	assert.Equal(t, "post 1", reg.Items(models.FeedFollowing)[0].Title)
}

func TestRegistry_ApplyEditsInPlace(t *testing.T) {
	t.Parallel()
	reg, rec := primed(t, models.FeedFollowing, models.Filter{}, "1", "2", "3")

	reg.Apply([]models.FeedType{models.FeedFollowing, models.FeedSearch}, func(c *Collection) []Event {
		if c.UpdateItem("2", func(it *models.Item) bool { it.Title = "edited"; return true }) {
			return []Event{{Kind: EventItemUpdated, FeedType: c.Type(), ItemID: "2"}}
		}
		return nil
	})

	got := reg.Items(models.FeedFollowing)
	assert.Equal(t, []string{"1", "2", "3"}, ids(got))
	assert.Equal(t, "edited", got[1].Title)
	assert.Contains(t, rec.kinds(), EventItemUpdated)
}

func TestRegistry_RemoveKeepsOrderAndTail(t *testing.T) {
	t.Parallel()
	reg, _ := primed(t, models.FeedFollowing, models.Filter{}, "1", "2", "3")

	reg.Apply([]models.FeedType{models.FeedFollowing}, func(c *Collection) []Event {
		assert.True(t, c.RemoveItem("3"))
		assert.False(t, c.RemoveItem("3"))
		return nil
	})

	assert.Equal(t, []string{"1", "2"}, ids(reg.Items(models.FeedFollowing)))
	assert.Equal(t, "2", reg.Tail(models.FeedFollowing))
}

func TestRegistry_OpenItemSlot(t *testing.T) {
	t.Parallel()
	reg, _ := primed(t, models.FeedFollowing, models.Filter{}, "1")

	reg.SetOpenItem(&models.Item{ID: "9", Title: "detail", LikeCount: 1})
	assert.Equal(t, "detail", reg.FindItem("9").Title)
	assert.Equal(t, "post 1", reg.FindItem("1").Title)
	assert.Nil(t, reg.FindItem("missing"))

	assert.False(t, reg.UpdateOpenItem("1", func(it *models.Item) *models.Item { return it }))
	assert.True(t, reg.UpdateOpenItem("9", func(it *models.Item) *models.Item {
		it.LikeCount++
		return it
	}))
	assert.Equal(t, 2, reg.OpenItem().LikeCount)

	assert.True(t, reg.UpdateOpenItem("9", func(*models.Item) *models.Item { return nil }))
	assert.Nil(t, reg.OpenItem())
}

func TestRegistry_ResetClearsEverything(t *testing.T) {
	t.Parallel()
	reg, rec := primed(t, models.FeedFollowing, models.Filter{Sort: "top"}, "1", "2")
	reg.SetOpenItem(&models.Item{ID: "1"})

	reg.Reset()

	for _, ft := range models.AllFeedTypes {
		v, err := reg.View(ft)
		require.NoError(t, err)
		assert.Empty(t, v.Items)
		assert.False(t, v.Loaded)
		assert.False(t, v.HasMore)
		assert.Empty(t, v.Cursor)
	}
	assert.Nil(t, reg.OpenItem())
	kinds := rec.kinds()
	assert.Equal(t, EventSessionReset, kinds[len(kinds)-1])
}

func TestBus_SubscribeCancel(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	var n int
	cancel := bus.Subscribe(func(Event) { n++ })

	bus.Publish(Event{Kind: EventFeedLoading}, Event{Kind: EventFeedReplaced})
	cancel()
	bus.Publish(Event{Kind: EventFeedLoading})

	assert.Equal(t, 2, n)
}

func TestPolicyFor(t *testing.T) {
	t.Parallel()
	assert.True(t, PolicyFor(models.FeedPublic).ReplaceOnly)
	assert.False(t, PolicyFor(models.FeedPublic).ScrollPaging)
	for _, ft := range []models.FeedType{models.FeedFollowing, models.FeedSearch, models.FeedProfile} {
		assert.False(t, PolicyFor(ft).ReplaceOnly, ft)
		assert.True(t, PolicyFor(ft).ScrollPaging, ft)
	}
}
