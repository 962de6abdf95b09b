// Package mutation applies authoritative single-item changes to every cached
// copy of the item.
package mutation

import (
	"feedsync/internal/feed"
	"feedsync/internal/models"
)

// Kind is a mutation the engine propagates.
type Kind string

const (
	KindLike   Kind = "like"
	KindEdit   Kind = "edit"
	KindDelete Kind = "delete"
)

// Table lists, per mutation kind, the feed types that receive it. Feeds not
// listed keep their cached copy until their next replace fetch.
type Table map[Kind]map[models.FeedType]bool

// Subscriptions is the declared table. Every feed, search results included,
// receives every mutation kind.
var Subscriptions = Table{
	KindLike: {
		models.FeedPublic:    true,
		models.FeedFollowing: true,
		models.FeedSearch:    true,
		models.FeedProfile:   true,
	},
	KindEdit: {
		models.FeedPublic:    true,
		models.FeedFollowing: true,
		models.FeedSearch:    true,
		models.FeedProfile:   true,
	},
	KindDelete: {
		models.FeedPublic:    true,
		models.FeedFollowing: true,
		models.FeedSearch:    true,
		models.FeedProfile:   true,
	},
}

// Feeds returns the feed types subscribed to k, in registry order.
func (t Table) Feeds(k Kind) []models.FeedType {
	var out []models.FeedType
	for _, ft := range models.AllFeedTypes {
		if t[k][ft] {
			out = append(out, ft)
		}
	}
	return out
}

// Propagator fans mutation results out across the registry.
type Propagator struct {
	reg  *feed.Registry
	subs Table
}

// NewPropagator creates a Propagator. A nil table means Subscriptions.
func NewPropagator(reg *feed.Registry, subs Table) *Propagator {
	if subs == nil {
		subs = Subscriptions
	}
	return &Propagator{reg: reg, subs: subs}
}

// ApplyLike sets the liked state of every subscribed copy of id and returns
// how many copies changed. Re-applying the same result changes nothing.
func (p *Propagator) ApplyLike(id string, liked bool) int {
	changed := 0
	p.reg.Apply(p.subs.Feeds(KindLike), func(c *feed.Collection) []feed.Event {
		if c.UpdateItem(id, func(it *models.Item) bool { return it.ApplyLike(liked) }) {
			changed++
			return []feed.Event{{Kind: feed.EventItemUpdated, FeedType: c.Type(), ItemID: id}}
		}
		return nil
	})
	p.reg.UpdateOpenItem(id, func(it *models.Item) *models.Item {
		it.ApplyLike(liked)
		return it
	})
	return changed
}

// ApplyEdit swaps every subscribed copy of item.ID for item, keeping each
// copy's position. Copies that already carry a newer version are kept.
func (p *Propagator) ApplyEdit(item *models.Item) int {
	if item == nil {
		return 0
	}
	changed := 0
	p.reg.Apply(p.subs.Feeds(KindEdit), func(c *feed.Collection) []feed.Event {
		newer := false
		c.UpdateItem(item.ID, func(cached *models.Item) bool {
			newer = cached.Version > item.Version
			return false
		})
		if newer || !c.ReplaceItem(item) {
			return nil
		}
		changed++
		return []feed.Event{{Kind: feed.EventItemUpdated, FeedType: c.Type(), ItemID: item.ID}}
	})
	p.reg.UpdateOpenItem(item.ID, func(cached *models.Item) *models.Item {
		if cached.Version > item.Version {
			return cached
		}
		return item.Clone()
	})
	return changed
}

// ApplyDelete removes id from every subscribed feed and clears the open-item
// slot if it holds id. Removing an absent item is a no-op.
func (p *Propagator) ApplyDelete(id string) int {
	removed := 0
	p.reg.Apply(p.subs.Feeds(KindDelete), func(c *feed.Collection) []feed.Event {
		if !c.RemoveItem(id) {
			return nil
		}
		removed++
		return []feed.Event{{Kind: feed.EventItemRemoved, FeedType: c.Type(), ItemID: id}}
	})
	p.reg.UpdateOpenItem(id, func(*models.Item) *models.Item { return nil })
	return removed
}
