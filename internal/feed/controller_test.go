package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetcherStub is a stub for Fetcher.
type fetcherStub struct {
	calls   int32
	fetchFn func(context.Context, models.FeedType, models.Query) (*models.FeedPage, error)
}

func (s *fetcherStub) FetchFeed(ctx context.Context, ft models.FeedType, q models.Query) (*models.FeedPage, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fetchFn(ctx, ft, q)
}

func (s *fetcherStub) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

func items(ids ...string) []*models.Item {
	out := make([]*models.Item, len(ids))
	for i, id := range ids {
		out[i] = &models.Item{ID: id, Title: "post " + id, Version: 1}
	}
	return out
}

func ids(list []*models.Item) []string {
	out := make([]string, len(list))
	for i, it := range list {
		out[i] = it.ID
	}
	return out
}

// pagedFetcher serves pages keyed by cursor ("" is the first page).
func pagedFetcher(pages map[string]*models.FeedPage) *fetcherStub {
	return &fetcherStub{fetchFn: func(_ context.Context, _ models.FeedType, q models.Query) (*models.FeedPage, error) {
		p, ok := pages[q.Cursor]
		if !ok {
			return nil, fmt.Errorf("no page for cursor %q", q.Cursor)
		}
		return p, nil
	}}
}

func newTestController(f Fetcher) (*Controller, *Registry) {
	reg := NewRegistry(nil)
	return NewController(reg, f, ControllerOptions{PageLimit: 2, Timeout: time.Second}), reg
}

func TestController_SearchScenario_DedupAppend(t *testing.T) {
	f := pagedFetcher(map[string]*models.FeedPage{
		"":   {Items: items("2", "9"), NextCursor: "c1"},
		"c1": {Items: items("5", "2"), NextCursor: "c2"},
	})
	ctrl, reg := newTestController(f)
	ctx := context.Background()

	res, err := ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "kitchen"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	res, err = ctrl.FetchMore(ctx, models.FeedSearch, "c1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, ModeAppend, res.Mode)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Dropped)

	v, err := reg.View(models.FeedSearch)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "9", "5"}, ids(v.Items))
	assert.Equal(t, "c2", v.Cursor)
	assert.True(t, v.HasMore)
	assert.False(t, v.Loading)
	assert.Equal(t, 2, f.Calls())
}

func TestController_FetchMore_NoDuplicatesAndOrderPreserved(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	pages := map[string]*models.FeedPage{}
	for p := 0; p < 12; p++ {
		cur := ""
		if p > 0 {
			cur = fmt.Sprintf("c%d", p)
		}
		var page []string
		for i := 0; i < 5; i++ {
			page = append(page, fmt.Sprintf("%d", r.Intn(25)))
		}
		next := fmt.Sprintf("c%d", p+1)
		if p == 11 {
			next = ""
		}
		pages[cur] = &models.FeedPage{Items: items(page...), NextCursor: next}
	}

	ctrl, reg := newTestController(pagedFetcher(pages))
	ctx := context.Background()
	_, err := ctrl.FetchInitial(ctx, models.FeedFollowing, models.Filter{Following: true}, false)
	require.NoError(t, err)

	for reg.HasMore(models.FeedFollowing) {
		before := ids(reg.Items(models.FeedFollowing))
		v, _ := reg.View(models.FeedFollowing)
		_, err := ctrl.FetchMore(ctx, models.FeedFollowing, v.Cursor)
		require.NoError(t, err)

		after := ids(reg.Items(models.FeedFollowing))
		require.GreaterOrEqual(t, len(after), len(before))
		assert.Equal(t, before, after[:len(before)], "prior contents must stay in place")

		seen := map[string]bool{}
		for _, id := range after {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	v, _ := reg.View(models.FeedFollowing)
	assert.True(t, v.NoMoreItems)
}

func TestController_FetchInitial_ChangedFilterReplaces(t *testing.T) {
	f := &fetcherStub{fetchFn: func(_ context.Context, _ models.FeedType, q models.Query) (*models.FeedPage, error) {
		if q.Search == "kitchen" {
			return &models.FeedPage{Items: items("1", "2", "3"), NextCursor: "k1"}, nil
		}
		return &models.FeedPage{Items: items("3", "7"), NextCursor: ""}, nil
	}}
	ctrl, reg := newTestController(f)
	ctx := context.Background()

	_, err := ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "kitchen"}, false)
	require.NoError(t, err)
	_, err = ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "garden"}, false)
	require.NoError(t, err)

	v, _ := reg.View(models.FeedSearch)
	assert.Equal(t, []string{"3", "7"}, ids(v.Items))
	assert.Equal(t, "garden", v.Filter.Search)
	assert.False(t, v.HasMore)
	assert.Equal(t, "", v.Cursor)
}

func TestController_FetchInitial_UnchangedFilterSkipsUnlessReset(t *testing.T) {
	f := pagedFetcher(map[string]*models.FeedPage{"": {Items: items("1"), NextCursor: "c1"}})
	ctrl, _ := newTestController(f)
	ctx := context.Background()

	_, err := ctrl.FetchInitial(ctx, models.FeedFollowing, models.Filter{Roles: []string{"admin", "member"}}, false)
	require.NoError(t, err)

	res, err := ctrl.FetchInitial(ctx, models.FeedFollowing, models.Filter{Roles: []string{"member", "Admin"}}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, DecisionUnchanged, res.Decision)
	assert.Equal(t, 1, f.Calls())

	res, err = ctrl.FetchInitial(ctx, models.FeedFollowing, models.Filter{Roles: []string{"member", "admin"}}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, 2, f.Calls())
}

func TestController_PublicFeedIsReplaceOnly(t *testing.T) {
	f := pagedFetcher(map[string]*models.FeedPage{
		"":   {Items: items("1", "2"), NextCursor: "p2"},
		"p2": {Items: items("3", "4"), NextCursor: ""},
	})
	ctrl, reg := newTestController(f)
	ctx := context.Background()

	_, err := ctrl.FetchInitial(ctx, models.FeedPublic, models.Filter{}, false)
	require.NoError(t, err)
	res, err := ctrl.FetchMore(ctx, models.FeedPublic, "p2")
	require.NoError(t, err)

	assert.Equal(t, ModeReplace, res.Mode)
	assert.Equal(t, []string{"3", "4"}, ids(reg.Items(models.FeedPublic)))
}

func TestController_FetchMore_SkipReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prime    bool
		next     string
		cursor   string
		decision Decision
	}{
		{"empty cursor", true, "c1", "", DecisionNoCursor},
		{"not loaded", false, "", "c1", DecisionNotLoaded},
		{"exhausted", true, "", "c1", DecisionExhausted},
		{"cursor from another page", true, "c1", "c0", DecisionCursorMismatch},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := pagedFetcher(map[string]*models.FeedPage{"": {Items: items("1"), NextCursor: tc.next}})
			ctrl, _ := newTestController(f)
			ctx := context.Background()
			if tc.prime {
				_, err := ctrl.FetchInitial(ctx, models.FeedProfile, models.Filter{AuthorID: "u1"}, false)
				require.NoError(t, err)
			}
			calls := f.Calls()

			res, err := ctrl.FetchMore(ctx, models.FeedProfile, tc.cursor)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, res.Outcome)
			assert.Equal(t, tc.decision, res.Decision)
			assert.Equal(t, calls, f.Calls(), "no request may be issued")
		})
	}
}

func TestController_FailureKeepsItems(t *testing.T) {
	fail := false
	f := &fetcherStub{fetchFn: func(_ context.Context, _ models.FeedType, q models.Query) (*models.FeedPage, error) {
		if fail {
			return nil, models.NewNotAuthenticatedError("session expired")
		}
		return &models.FeedPage{Items: items("1", "2"), NextCursor: "c1"}, nil
	}}
	ctrl, reg := newTestController(f)
	ctx := context.Background()

	_, err := ctrl.FetchInitial(ctx, models.FeedFollowing, models.Filter{}, false)
	require.NoError(t, err)

	fail = true
	res, err := ctrl.FetchMore(ctx, models.FeedFollowing, "c1")
	require.NoError(t, err, "failures are recorded on the feed")
	assert.Equal(t, OutcomeFailed, res.Outcome)

	v, _ := reg.View(models.FeedFollowing)
	assert.Equal(t, []string{"1", "2"}, ids(v.Items))
	assert.Equal(t, models.CodeNotAuthenticated, v.ErrorCode)
	assert.False(t, v.Loading)
	assert.Equal(t, "c1", v.Cursor, "cursor survives a failed page so it can be retried")

	fail = false
	res, err = ctrl.FetchMore(ctx, models.FeedFollowing, "c1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "", reg.Error(models.FeedFollowing))
}

func TestController_PlainErrorsBecomeNetworkFailures(t *testing.T) {
	f := &fetcherStub{fetchFn: func(context.Context, models.FeedType, models.Query) (*models.FeedPage, error) {
		return nil, errors.New("connection reset")
	}}
	ctrl, reg := newTestController(f)
	res, err := ctrl.FetchInitial(context.Background(), models.FeedPublic, models.Filter{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	v, _ := reg.View(models.FeedPublic)
	assert.Equal(t, models.CodeNetworkFailure, v.ErrorCode)
	assert.Empty(t, v.Items)
}

func TestController_EmptyPageIsNotAnError(t *testing.T) {
	f := pagedFetcher(map[string]*models.FeedPage{"": {}})
	ctrl, reg := newTestController(f)
	res, err := ctrl.FetchInitial(context.Background(), models.FeedSearch, models.Filter{Search: "nothing"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	v, _ := reg.View(models.FeedSearch)
	assert.False(t, v.HasMore)
	assert.True(t, v.NoMoreItems)
	assert.Empty(t, v.Error)
}

func TestController_ValidationIssuesNoRequest(t *testing.T) {
	f := pagedFetcher(nil)
	ctrl, _ := newTestController(f)
	_, err := ctrl.FetchInitial(context.Background(), models.FeedFollowing, models.Filter{Roles: []string{"wizard"}}, false)
	assert.True(t, models.IsValidation(err))
	_, err = ctrl.FetchInitial(context.Background(), models.FeedSearch, models.Filter{}, false)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 0, f.Calls())
}

// gatedFetcher blocks every request until its release channel is closed.
type gatedFetcher struct {
	mu      sync.Mutex
	calls   int
	gates   map[string]chan struct{}
	started chan string
	pages   map[string]*models.FeedPage
}

func newGatedFetcher(pages map[string]*models.FeedPage) *gatedFetcher {
	return &gatedFetcher{gates: map[string]chan struct{}{}, started: make(chan string, 16), pages: pages}
}

func (g *gatedFetcher) key(q models.Query) string { return q.Search + "@" + q.Cursor }

func (g *gatedFetcher) gate(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan struct{})
		g.gates[key] = ch
	}
	return ch
}

func (g *gatedFetcher) FetchFeed(ctx context.Context, _ models.FeedType, q models.Query) (*models.FeedPage, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	k := g.key(q)
	gate := g.gate(k)
	g.started <- k
	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.pages[k], nil
}

func TestController_InFlightGuard(t *testing.T) {
	g := newGatedFetcher(map[string]*models.FeedPage{
		"a@":   {Items: items("1"), NextCursor: "c1"},
		"a@c1": {Items: items("2"), NextCursor: "c2"},
	})
	ctrl, reg := newTestController(g)
	ctx := context.Background()

	close(g.gate("a@"))
	_, err := ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "a"}, false)
	require.NoError(t, err)
	<-g.started

	done := make(chan Result, 1)
	go func() {
		res, _ := ctrl.FetchMore(ctx, models.FeedSearch, "c1")
		done <- res
	}()
	assert.Equal(t, "a@c1", <-g.started)
	assert.True(t, reg.Loading(models.FeedSearch))

	res, err := ctrl.FetchMore(ctx, models.FeedSearch, "c1")
	require.NoError(t, err)
	assert.Equal(t, DecisionInFlight, res.Decision)

	res, err = ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "a"}, false)
	require.NoError(t, err)
	assert.Equal(t, DecisionCoalesced, res.Decision)

	close(g.gate("a@c1"))
	assert.Equal(t, OutcomeApplied, (<-done).Outcome)
	assert.Equal(t, []string{"1", "2"}, ids(reg.Items(models.FeedSearch)))
	assert.Equal(t, 2, g.calls)
}

func TestController_SupersededResponseIsDiscarded(t *testing.T) {
	g := newGatedFetcher(map[string]*models.FeedPage{
		"old@": {Items: items("old-1", "old-2"), NextCursor: "o1"},
		"new@": {Items: items("new-1"), NextCursor: "n1"},
	})
	ctrl, reg := newTestController(g)
	ctx := context.Background()

	oldDone := make(chan Result, 1)
	go func() {
		res, _ := ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "old"}, false)
		oldDone <- res
	}()
	assert.Equal(t, "old@", <-g.started)

	close(g.gate("new@"))
	res, err := ctrl.FetchInitial(ctx, models.FeedSearch, models.Filter{Search: "new"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	<-g.started

	close(g.gate("old@"))
	assert.Equal(t, OutcomeStale, (<-oldDone).Outcome)

	v, _ := reg.View(models.FeedSearch)
	assert.Equal(t, []string{"new-1"}, ids(v.Items))
	assert.Equal(t, "n1", v.Cursor)
	assert.False(t, v.Loading)
}

func TestController_ResetDiscardsInFlightResponse(t *testing.T) {
	g := newGatedFetcher(map[string]*models.FeedPage{"@": {Items: items("1"), NextCursor: "c1"}})
	ctrl, reg := newTestController(g)

	done := make(chan Result, 1)
	go func() {
		res, _ := ctrl.FetchInitial(context.Background(), models.FeedFollowing, models.Filter{}, false)
		done <- res
	}()
	<-g.started
	reg.Reset()
	close(g.gate("@"))

	assert.Equal(t, OutcomeStale, (<-done).Outcome)
	assert.Empty(t, reg.Items(models.FeedFollowing))
	assert.False(t, reg.Loading(models.FeedFollowing))
}

func TestController_FetchTimeoutFailsTheFeed(t *testing.T) {
	t.Parallel()
	f := &fetcherStub{fetchFn: func(ctx context.Context, _ models.FeedType, _ models.Query) (*models.FeedPage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	reg := NewRegistry(nil)
	ctrl := NewController(reg, f, ControllerOptions{PageLimit: 2, Timeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := ctrl.FetchInitial(context.Background(), models.FeedFollowing, models.Filter{}, false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	v, _ := reg.View(models.FeedFollowing)
	assert.False(t, v.Loading)
	assert.Equal(t, models.CodeNetworkFailure, v.ErrorCode)
}
