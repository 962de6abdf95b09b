package feed

import (
	"sync"
	"time"

	"feedsync/internal/models"
)

// EventKind names a change to engine state.
type EventKind string

const (
	EventFeedReplaced       EventKind = "feed_replaced"
	EventFeedAppended       EventKind = "feed_appended"
	EventFeedLoading        EventKind = "feed_loading"
	EventFeedError          EventKind = "feed_error"
	EventItemUpdated        EventKind = "item_updated"
	EventItemRemoved        EventKind = "item_removed"
	EventOpenItemChanged    EventKind = "open_item_changed"
	EventCommentsChanged    EventKind = "comments_changed"
	EventReplyTargetChanged EventKind = "reply_target_changed"
	EventSessionReset       EventKind = "session_reset"
)

// Event is published after the state it describes has been committed.
type Event struct {
	Kind     EventKind       `json:"kind"`
	FeedType models.FeedType `json:"feed_type,omitempty"`
	ItemID   string          `json:"item_id,omitempty"`
	PostID   string          `json:"post_id,omitempty"`
	At       time.Time       `json:"at"`
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine and must not call back into the publisher's locks.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers events in order to every subscriber.
func (b *Bus) Publish(events ...Event) {
	if b == nil || len(events) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = now
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}
