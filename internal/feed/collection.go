package feed

import (
	"feedsync/internal/models"
)

// Collection is one paginated, ordered view over items. Order is the order the
// server returned; the engine never re-sorts it. A Collection is not safe for
// concurrent use on its own: the Registry serializes access.
type Collection struct {
	feedType models.FeedType
	items    []*models.Item
	ids      map[string]struct{}

	filter    models.Filter
	signature string
	cursor    string
	hasMore   bool
	loaded    bool

	loading bool
	err     *models.AppError

	// generation tags the most recent request; responses carrying an older
	// generation are discarded on arrival.
	generation       uint64
	inflight         bool
	pendingFilter    models.Filter
	pendingSignature string
}

func newCollection(ft models.FeedType, generation uint64) *Collection {
	return &Collection{
		feedType:   ft,
		ids:        make(map[string]struct{}),
		generation: generation,
	}
}

// Type returns the feed type tag.
func (c *Collection) Type() models.FeedType { return c.feedType }

// Len returns the number of cached items.
func (c *Collection) Len() int { return len(c.items) }

// Contains reports whether an item with id is cached.
func (c *Collection) Contains(id string) bool {
	_, ok := c.ids[id]
	return ok
}

func (c *Collection) indexOf(id string) int {
	if !c.Contains(id) {
		return -1
	}
	for i, it := range c.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// UpdateItem runs fn on the cached copy of id in place. Returns whether fn reported a change.
func (c *Collection) UpdateItem(id string, fn func(*models.Item) bool) bool {
	idx := c.indexOf(id)
	if idx < 0 {
		return false
	}
	return fn(c.items[idx])
}

// ReplaceItem swaps the cached copy of item.ID for item at the same position.
func (c *Collection) ReplaceItem(item *models.Item) bool {
	idx := c.indexOf(item.ID)
	if idx < 0 {
		return false
	}
	c.items[idx] = item.Clone()
	return true
}

// RemoveItem drops id from the list. Removing an absent id is a no-op.
func (c *Collection) RemoveItem(id string) bool {
	idx := c.indexOf(id)
	if idx < 0 {
		return false
	}
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	delete(c.ids, id)
	return true
}

// replace installs a full page as the new contents.
func (c *Collection) replace(items []*models.Item) (added int) {
	c.items = make([]*models.Item, 0, len(items))
	c.ids = make(map[string]struct{}, len(items))
	for _, it := range items {
		if it == nil || c.Contains(it.ID) {
			continue
		}
		c.items = append(c.items, it.Clone())
		c.ids[it.ID] = struct{}{}
	}
	return len(c.items)
}

// appendDedup appends items whose id is not already cached, in server order.
func (c *Collection) appendDedup(items []*models.Item) (added, dropped int) {
	for _, it := range items {
		if it == nil {
			continue
		}
		if c.Contains(it.ID) {
			dropped++
			continue
		}
		c.items = append(c.items, it.Clone())
		c.ids[it.ID] = struct{}{}
		added++
	}
	return added, dropped
}

// View is a read-only copy of a Collection handed to the rendering layer.
type View struct {
	FeedType  models.FeedType `json:"feed_type"`
	Items     []*models.Item  `json:"items"`
	Filter    models.Filter   `json:"filter"`
	Cursor    string          `json:"cursor,omitempty"`
	HasMore   bool            `json:"has_more"`
	Loading   bool            `json:"loading"`
	Loaded    bool            `json:"loaded"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	// NoMoreItems is the "end of feed" state the renderer may show.
	NoMoreItems bool `json:"no_more_items"`
}

func (c *Collection) view() View {
	items := make([]*models.Item, len(c.items))
	for i, it := range c.items {
		items[i] = it.Clone()
	}
	v := View{
		FeedType:    c.feedType,
		Items:       items,
		Filter:      c.filter,
		Cursor:      c.cursor,
		HasMore:     c.hasMore,
		Loading:     c.loading,
		Loaded:      c.loaded,
		NoMoreItems: c.loaded && !c.hasMore,
	}
	if c.err != nil {
		v.Error = c.err.Message
		v.ErrorCode = c.err.Code
	}
	return v
}

// Tail returns the id of the last cached item, or "" when empty.
func (c *Collection) Tail() string {
	if len(c.items) == 0 {
		return ""
	}
	return c.items[len(c.items)-1].ID
}
