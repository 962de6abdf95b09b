package feed

import (
	"errors"
	"sync"

	"feedsync/internal/models"
)

// Decision is why a fetch was or was not started.
type Decision string

const (
	DecisionStart          Decision = "start"
	DecisionUnchanged      Decision = "unchanged"
	DecisionCoalesced      Decision = "coalesced"
	DecisionInFlight       Decision = "in_flight"
	DecisionNoCursor       Decision = "no_cursor"
	DecisionNotLoaded      Decision = "not_loaded"
	DecisionExhausted      Decision = "exhausted"
	DecisionCursorMismatch Decision = "cursor_mismatch"
)

// Mode is how a fetched page is merged.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// ticket identifies one started request.
type ticket struct {
	feedType   models.FeedType
	generation uint64
	filter     models.Filter
	signature  string
	cursor     string
	mode       Mode
}

// Registry is the session's set of Feed Collections plus the open-item slot.
// It is the only owner of that state; writers are the fetch controller and
// the mutation propagator.
type Registry struct {
	mu          sync.RWMutex
	collections map[models.FeedType]*Collection
	openItem    *models.Item
	bus         *Bus
}

// NewRegistry creates empty collections for every known feed type.
func NewRegistry(bus *Bus) *Registry {
	if bus == nil {
		bus = NewBus()
	}
	r := &Registry{
		collections: make(map[models.FeedType]*Collection, len(models.AllFeedTypes)),
		bus:         bus,
	}
	for _, ft := range models.AllFeedTypes {
		r.collections[ft] = newCollection(ft, 0)
	}
	return r
}

// Bus returns the event bus the registry publishes on.
func (r *Registry) Bus() *Bus { return r.bus }

var errUnknownFeed = errors.New("unknown feed type")

func (r *Registry) get(ft models.FeedType) (*Collection, error) {
	c, ok := r.collections[ft]
	if !ok {
		return nil, models.NewValidationError(errUnknownFeed.Error() + ": " + string(ft))
	}
	return c, nil
}

// View returns a read-only snapshot of one feed.
func (r *Registry) View(ft models.FeedType) (View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.get(ft)
	if err != nil {
		return View{}, err
	}
	return c.view(), nil
}

// Items, HasMore, Loading and Error are the selectors the renderer reads.
func (r *Registry) Items(ft models.FeedType) []*models.Item {
	v, _ := r.View(ft)
	return v.Items
}

func (r *Registry) HasMore(ft models.FeedType) bool {
	v, _ := r.View(ft)
	return v.HasMore
}

func (r *Registry) Loading(ft models.FeedType) bool {
	v, _ := r.View(ft)
	return v.Loading
}

func (r *Registry) Error(ft models.FeedType) string {
	v, _ := r.View(ft)
	return v.Error
}

// Failure returns the error recorded by the last failed fetch of ft, or nil.
func (r *Registry) Failure(ft models.FeedType) *models.AppError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collections[ft]; ok {
		return c.err
	}
	return nil
}

// Tail returns the id of the last item of ft.
func (r *Registry) Tail(ft models.FeedType) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collections[ft]; ok {
		return c.Tail()
	}
	return ""
}

func (r *Registry) beginInitial(ft models.FeedType, filter models.Filter, reset bool) (ticket, Decision, error) {
	filter = filter.Normalize()
	sig := filter.Signature()

	r.mu.Lock()
	c, err := r.get(ft)
	if err != nil {
		r.mu.Unlock()
		return ticket{}, "", err
	}
	if !reset {
		if c.inflight && c.pendingSignature == sig {
			r.mu.Unlock()
			return ticket{}, DecisionCoalesced, nil
		}
		if !c.inflight && c.loaded && c.signature == sig {
			r.mu.Unlock()
			return ticket{}, DecisionUnchanged, nil
		}
	}
	c.generation++
	c.inflight = true
	c.loading = true
	c.pendingFilter = filter
	c.pendingSignature = sig
	t := ticket{
		feedType:   ft,
		generation: c.generation,
		filter:     filter,
		signature:  sig,
		mode:       ModeReplace,
	}
	r.mu.Unlock()

	r.bus.Publish(Event{Kind: EventFeedLoading, FeedType: ft})
	return t, DecisionStart, nil
}

func (r *Registry) beginMore(ft models.FeedType, cursor string) (ticket, Decision, error) {
	r.mu.Lock()
	c, err := r.get(ft)
	if err != nil {
		r.mu.Unlock()
		return ticket{}, "", err
	}
	var d Decision
	switch {
	case cursor == "":
		d = DecisionNoCursor
	case c.inflight:
		d = DecisionInFlight
	case !c.loaded:
		d = DecisionNotLoaded
	case !c.hasMore:
		d = DecisionExhausted
	case cursor != c.cursor:
		d = DecisionCursorMismatch
	default:
		d = DecisionStart
	}
	if d != DecisionStart {
		r.mu.Unlock()
		return ticket{}, d, nil
	}

	mode := ModeAppend
	if PolicyFor(ft).ReplaceOnly {
		mode = ModeReplace
	}
	c.generation++
	c.inflight = true
	c.loading = true
	c.pendingFilter = c.filter
	c.pendingSignature = c.signature
	t := ticket{
		feedType:   ft,
		generation: c.generation,
		filter:     c.filter,
		signature:  c.signature,
		cursor:     cursor,
		mode:       mode,
	}
	r.mu.Unlock()

	r.bus.Publish(Event{Kind: EventFeedLoading, FeedType: ft})
	return t, DecisionStart, nil
}

// mergeResult reports what applying a page did.
type mergeResult struct {
	stale   bool
	added   int
	dropped int
}

func (r *Registry) complete(t ticket, page *models.FeedPage) mergeResult {
	r.mu.Lock()
	c := r.collections[t.feedType]
	if c == nil || c.generation != t.generation {
		r.mu.Unlock()
		return mergeResult{stale: true}
	}

	var items []*models.Item
	next := ""
	if page != nil {
		items = page.Items
		next = page.NextCursor
	}

	var res mergeResult
	kind := EventFeedReplaced
	if t.mode == ModeReplace {
		res.added = c.replace(items)
		res.dropped = len(items) - res.added
	} else {
		res.added, res.dropped = c.appendDedup(items)
		kind = EventFeedAppended
	}
	c.filter = t.filter
	c.signature = t.signature
	c.cursor = next
	c.hasMore = next != ""
	c.loaded = true
	c.loading = false
	c.inflight = false
	c.err = nil
	r.mu.Unlock()

	r.bus.Publish(Event{Kind: kind, FeedType: t.feedType})
	return res
}

func (r *Registry) fail(t ticket, err error) (stale bool) {
	r.mu.Lock()
	c := r.collections[t.feedType]
	if c == nil || c.generation != t.generation {
		r.mu.Unlock()
		return true
	}
	c.loading = false
	c.inflight = false
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.NewNetworkError(err)
	}
	c.err = appErr
	r.mu.Unlock()

	r.bus.Publish(Event{Kind: EventFeedError, FeedType: t.feedType})
	return false
}

// Apply runs fn on the listed collections under the write lock, then
// publishes the events fn returned. It is how mutations reach cached copies.
func (r *Registry) Apply(types []models.FeedType, fn func(c *Collection) []Event) {
	var events []Event
	r.mu.Lock()
	for _, ft := range types {
		c, ok := r.collections[ft]
		if !ok {
			continue
		}
		events = append(events, fn(c)...)
	}
	r.mu.Unlock()
	r.bus.Publish(events...)
}

// OpenItem returns a copy of the item currently open in a detail view.
func (r *Registry) OpenItem() *models.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.openItem.Clone()
}

// SetOpenItem fills or clears (nil) the open-item slot.
func (r *Registry) SetOpenItem(item *models.Item) {
	r.mu.Lock()
	r.openItem = item.Clone()
	id := ""
	if item != nil {
		id = item.ID
	}
	r.mu.Unlock()
	r.bus.Publish(Event{Kind: EventOpenItemChanged, ItemID: id})
}

// UpdateOpenItem runs fn on the open item when its id matches.
// A nil result from fn clears the slot.
func (r *Registry) UpdateOpenItem(id string, fn func(*models.Item) *models.Item) bool {
	r.mu.Lock()
	if r.openItem == nil || r.openItem.ID != id {
		r.mu.Unlock()
		return false
	}
	r.openItem = fn(r.openItem)
	r.mu.Unlock()
	r.bus.Publish(Event{Kind: EventOpenItemChanged, ItemID: id})
	return true
}

// FindItem returns a copy of the first cached copy of id across all feeds.
func (r *Registry) FindItem(id string) *models.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.openItem != nil && r.openItem.ID == id {
		return r.openItem.Clone()
	}
	for _, ft := range models.AllFeedTypes {
		c := r.collections[ft]
		if idx := c.indexOf(id); idx >= 0 {
			return c.items[idx].Clone()
		}
	}
	return nil
}

// Reset empties every feed and the open-item slot. Generations keep
// increasing so responses to requests issued before the reset are discarded.
func (r *Registry) Reset() {
	r.mu.Lock()
	for ft, c := range r.collections {
		r.collections[ft] = newCollection(ft, c.generation+1)
	}
	r.openItem = nil
	r.mu.Unlock()
	r.bus.Publish(Event{Kind: EventSessionReset})
}
