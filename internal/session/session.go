// Package session wires one engine instance per signed-in user: the feed
// registry, fetch controller, mutation service, comment cache and scroll
// trigger, all sharing one event bus.
package session

import (
	"context"
	"sync"
	"time"

	"feedsync/internal/comments"
	"feedsync/internal/feed"
	"feedsync/internal/models"
	"feedsync/internal/mutation"
	"feedsync/internal/observability"
	"feedsync/internal/scroll"

	"golang.org/x/sync/errgroup"
)

// Backend is everything a session consumes from the content API.
type Backend interface {
	feed.Fetcher
	mutation.ItemWriter
	comments.Backend
}

// ItemReader is implemented by backends that can load a single item. The
// session uses it to open items that no feed has cached.
type ItemReader interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
}

// Options tunes the engine.
type Options struct {
	PageLimit    int
	FetchTimeout time.Duration
	LookaheadPx  int
}

// Session is one user's engine.
type Session struct {
	UserID string

	bus        *feed.Bus
	registry   *feed.Registry
	controller *feed.Controller
	mutations  *mutation.Service
	comments   *comments.Cache
	trigger    *scroll.Trigger
	backend    Backend

	mu       sync.Mutex
	lastSeen time.Time
}

// New builds a Session on backend.
func New(userID string, backend Backend, opts Options) *Session {
	bus := feed.NewBus()
	reg := feed.NewRegistry(bus)
	ctrl := feed.NewController(reg, backend, feed.ControllerOptions{
		PageLimit: opts.PageLimit,
		Timeout:   opts.FetchTimeout,
	})
	return &Session{
		UserID:     userID,
		bus:        bus,
		registry:   reg,
		controller: ctrl,
		mutations:  mutation.NewService(backend, mutation.NewPropagator(reg, nil)),
		comments:   comments.NewCache(backend, bus),
		trigger:    scroll.New(reg, ctrl, opts.LookaheadPx),
		backend:    backend,
		lastSeen:   time.Now(),
	}
}

// Registry returns the session's feed registry.
func (s *Session) Registry() *feed.Registry { return s.registry }

// Comments returns the session's comment cache.
func (s *Session) Comments() *comments.Cache { return s.comments }

// Trigger returns the session's scroll trigger.
func (s *Session) Trigger() *scroll.Trigger { return s.trigger }

// Mutations returns the service that writes items and propagates the result.
func (s *Session) Mutations() *mutation.Service { return s.mutations }

// Subscribe registers fn for every engine event of this session.
func (s *Session) Subscribe(fn func(feed.Event)) (cancel func()) {
	return s.bus.Subscribe(fn)
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Bootstrap loads the public and following feeds concurrently. Failures are
// recorded on the feeds; the first one is also returned.
func (s *Session) Bootstrap(ctx context.Context) error {
	var g errgroup.Group
	for _, ft := range []models.FeedType{models.FeedPublic, models.FeedFollowing} {
		ft := ft
		g.Go(func() error {
			res, err := s.controller.FetchInitial(ctx, ft, models.Filter{}, false)
			if err != nil {
				return err
			}
			if res.Outcome == feed.OutcomeFailed {
				if appErr := s.registry.Failure(ft); appErr != nil {
					return appErr
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// FetchInitial loads the first page of ft. Fetch failures are reported by
// the result's outcome and the feed's error, never by the returned error.
func (s *Session) FetchInitial(ctx context.Context, ft models.FeedType, filter models.Filter, reset bool) (feed.Result, error) {
	return s.controller.FetchInitial(ctx, ft, filter, reset)
}

// FetchMore loads the page after cursor for a scroll-paged or replace-only
// feed, subject to the controller's skip rules.
func (s *Session) FetchMore(ctx context.Context, ft models.FeedType, cursor string) (feed.Result, error) {
	return s.controller.FetchMore(ctx, ft, cursor)
}

// Scroll feeds a viewport signal to the scroll trigger.
func (s *Session) Scroll(ctx context.Context, sig scroll.Signal) (bool, scroll.Reason, error) {
	return s.trigger.Observe(ctx, sig)
}

// View returns a snapshot of ft.
func (s *Session) View(ft models.FeedType) (feed.View, error) {
	return s.registry.View(ft)
}

// ToggleLike flips the user's like on itemID and propagates the new state
// to every feed holding the item.
func (s *Session) ToggleLike(ctx context.Context, itemID string) (bool, error) {
	return s.mutations.ToggleLike(ctx, itemID)
}

// EditItem saves patch and replaces every cached copy with the saved item.
func (s *Session) EditItem(ctx context.Context, itemID string, patch models.ItemPatch) (*models.Item, error) {
	return s.mutations.EditItem(ctx, itemID, patch)
}

// DeleteItem deletes itemID and removes it from every feed and the open
// item slot.
func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	return s.mutations.DeleteItem(ctx, itemID)
}

// OpenItem fills the open-item slot with itemID, from a feed's cached copy
// when there is one and otherwise from the backend.
func (s *Session) OpenItem(ctx context.Context, itemID string) (*models.Item, error) {
	if it := s.registry.FindItem(itemID); it != nil {
		s.registry.SetOpenItem(it)
		return it, nil
	}
	reader, ok := s.backend.(ItemReader)
	if !ok {
		return nil, models.NewNotFoundError("Item", itemID)
	}
	it, err := reader.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.registry.SetOpenItem(it)
	return it.Clone(), nil
}

// CloseItem empties the open-item slot.
func (s *Session) CloseItem() {
	s.registry.SetOpenItem(nil)
}

// Reset drops every cached feed, thread and selection.
func (s *Session) Reset() {
	s.comments.Reset()
	s.registry.Reset()
	observability.GlobalLogger.Info("session reset", "user_id", s.UserID)
}

// Close resets the session and detaches its trigger.
func (s *Session) Close() {
	s.Reset()
	s.trigger.Close()
}
