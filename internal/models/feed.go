package models

import (
	"fmt"
	"sort"
	"strings"
)

// FeedType identifies one independently paginated collection.
type FeedType string

const (
	FeedPublic    FeedType = "public"
	FeedFollowing FeedType = "following"
	FeedSearch    FeedType = "search"
	FeedProfile   FeedType = "profile"
)

// AllFeedTypes lists every feed in registry order.
var AllFeedTypes = []FeedType{FeedPublic, FeedFollowing, FeedSearch, FeedProfile}

// ParseFeedType validates a feed type coming from a route or config.
func ParseFeedType(raw string) (FeedType, error) {
	ft := FeedType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllFeedTypes {
		if ft == known {
			return ft, nil
		}
	}
	return "", NewValidationError(fmt.Sprintf("unknown feed type %q", raw))
}

// Sort orders accepted by the content API.
const (
	SortNew = "new"
	SortTop = "top"
	SortHot = "hot"
)

// KnownRoles are the author roles a feed may be filtered by.
var KnownRoles = map[string]struct{}{
	"member":    {},
	"creator":   {},
	"moderator": {},
	"admin":     {},
}

// Filter holds the non-pagination query parameters of a feed.
type Filter struct {
	Sort      string   `json:"sort,omitempty"`
	Following bool     `json:"following,omitempty"`
	Mentioned bool     `json:"mentioned,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Search    string   `json:"search,omitempty"`
	AuthorID  string   `json:"author_id,omitempty"`
}

// Normalize lower-cases, trims, de-duplicates and sorts so equal filters compare equal.
func (f Filter) Normalize() Filter {
	out := f
	out.Sort = strings.ToLower(strings.TrimSpace(f.Sort))
	if out.Sort == "" {
		out.Sort = SortNew
	}
	out.Search = strings.TrimSpace(f.Search)
	out.AuthorID = strings.TrimSpace(f.AuthorID)
	if len(f.Roles) > 0 {
		seen := make(map[string]struct{}, len(f.Roles))
		roles := make([]string, 0, len(f.Roles))
		for _, r := range f.Roles {
			r = strings.ToLower(strings.TrimSpace(r))
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
		sort.Strings(roles)
		out.Roles = roles
	}
	if len(out.Roles) == 0 {
		out.Roles = nil
	}
	return out
}

// Signature is the canonical identity of a filter; the profile subject is part of it.
func (f Filter) Signature() string {
	n := f.Normalize()
	return fmt.Sprintf("sort=%s|following=%t|mentioned=%t|roles=%s|search=%s|author=%s",
		n.Sort, n.Following, n.Mentioned, strings.Join(n.Roles, ","), n.Search, n.AuthorID)
}

// Validate checks the filter against what the given feed accepts.
func (f Filter) Validate(ft FeedType) error {
	n := f.Normalize()
	switch n.Sort {
	case SortNew, SortTop, SortHot:
	default:
		return NewValidationError(fmt.Sprintf("invalid sort %q", f.Sort))
	}
	for _, r := range n.Roles {
		if _, ok := KnownRoles[r]; !ok {
			return NewValidationError(fmt.Sprintf("invalid role filter %q", r))
		}
	}
	switch ft {
	case FeedSearch:
		if n.Search == "" {
			return NewValidationError("Search query is required")
		}
	case FeedProfile:
		if n.AuthorID == "" {
			return NewValidationError("author_id is required for the profile feed")
		}
	}
	return nil
}

// Query is what the transport sends for one page.
type Query struct {
	Filter
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

// FeedPage is one page returned by the content API.
type FeedPage struct {
	Items      []*Item `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
