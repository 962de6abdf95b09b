// Package scroll decides when a viewport proximity signal should load the
// next page of a feed.
package scroll

import (
	"context"
	"sync"

	"feedsync/internal/feed"
	"feedsync/internal/models"
	"feedsync/internal/observability"
)

// DefaultLookaheadPx is how close the sentinel must be to the viewport edge.
const DefaultLookaheadPx = 100

// Signal reports where a feed's sentinel element sits relative to the
// viewport. DistancePx is the distance from the viewport's bottom edge to
// the sentinel; zero or negative means it is already visible. An empty
// Sentinel means the measurement was taken on the feed's current tail.
type Signal struct {
	FeedType   models.FeedType `json:"feed_type"`
	Sentinel   string          `json:"sentinel"`
	DistancePx int             `json:"distance_px"`
}

// State is the slice of feed state the predicate reads.
type State struct {
	Policy    feed.Policy
	Loading   bool
	HasMore   bool
	Cursor    string
	ItemCount int
	Tail      string
}

// Reason explains a ShouldFetch verdict.
type Reason string

const (
	ReasonFire            Reason = "fire"
	ReasonNotPaged        Reason = "not_paged"
	ReasonNotIntersecting Reason = "not_intersecting"
	ReasonLoading         Reason = "loading"
	ReasonExhausted       Reason = "exhausted"
	ReasonNoCursor        Reason = "no_cursor"
	ReasonEmpty           Reason = "empty"
	ReasonDetached        Reason = "detached"
)

// ShouldFetch is the trigger predicate. It fires only for scroll-paged feeds
// whose sentinel is within lookahead pixels, that are not loading, have more
// pages behind a non-empty cursor and hold at least one item. A signal that
// names a sentinel other than the current tail was measured on a detached
// element and is ignored.
func ShouldFetch(st State, sig Signal, lookahead int) (bool, Reason) {
	switch {
	case !st.Policy.ScrollPaging:
		return false, ReasonNotPaged
	case sig.DistancePx > lookahead:
		return false, ReasonNotIntersecting
	case st.Loading:
		return false, ReasonLoading
	case !st.HasMore:
		return false, ReasonExhausted
	case st.Cursor == "":
		return false, ReasonNoCursor
	case st.ItemCount < 1:
		return false, ReasonEmpty
	case sig.Sentinel != "" && sig.Sentinel != st.Tail:
		return false, ReasonDetached
	}
	return true, ReasonFire
}

// Pager is the part of the fetch controller the trigger drives.
type Pager interface {
	FetchMore(ctx context.Context, ft models.FeedType, cursor string) (feed.Result, error)
}

// Trigger turns Signals into FetchMore calls. It follows the registry's
// events so the sentinel always tracks the current tail of each feed.
type Trigger struct {
	reg       *feed.Registry
	pager     Pager
	lookahead int

	mu        sync.Mutex
	sentinels map[models.FeedType]string
	cancel    func()
}

// New creates a Trigger attached to every feed of reg.
func New(reg *feed.Registry, pager Pager, lookahead int) *Trigger {
	if lookahead <= 0 {
		lookahead = DefaultLookaheadPx
	}
	t := &Trigger{
		reg:       reg,
		pager:     pager,
		lookahead: lookahead,
		sentinels: make(map[models.FeedType]string, len(models.AllFeedTypes)),
	}
	for _, ft := range models.AllFeedTypes {
		t.sentinels[ft] = reg.Tail(ft)
	}
	t.cancel = reg.Bus().Subscribe(t.onEvent)
	return t
}

func (t *Trigger) onEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.EventFeedReplaced, feed.EventFeedAppended, feed.EventItemRemoved:
		t.attach(ev.FeedType)
	case feed.EventSessionReset:
		for _, ft := range models.AllFeedTypes {
			t.attach(ft)
		}
	}
}

func (t *Trigger) attach(ft models.FeedType) {
	if ft == "" {
		return
	}
	tail := t.reg.Tail(ft)
	t.mu.Lock()
	t.sentinels[ft] = tail
	t.mu.Unlock()
}

// Sentinel returns the item id the trigger currently observes for ft.
func (t *Trigger) Sentinel(ft models.FeedType) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentinels[ft]
}

// Observe evaluates sig and calls FetchMore when the predicate fires.
func (t *Trigger) Observe(ctx context.Context, sig Signal) (bool, Reason, error) {
	v, err := t.reg.View(sig.FeedType)
	if err != nil {
		return false, "", err
	}
	st := State{
		Policy:    feed.PolicyFor(sig.FeedType),
		Loading:   v.Loading,
		HasMore:   v.HasMore,
		Cursor:    v.Cursor,
		ItemCount: len(v.Items),
		Tail:      t.Sentinel(sig.FeedType),
	}
	fire, reason := ShouldFetch(st, sig, t.lookahead)
	observability.ScrollTriggerTotal.WithLabelValues(string(sig.FeedType), string(reason)).Inc()
	if !fire {
		return false, reason, nil
	}
	if _, err := t.pager.FetchMore(ctx, sig.FeedType, v.Cursor); err != nil {
		return true, reason, err
	}
	return true, reason, nil
}

// Close detaches the trigger from the registry's events.
func (t *Trigger) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}
