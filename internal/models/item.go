// Package models contains data structures for the feed engine's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Item represents a post as seen by the engine. The same ID in two feeds is the same entity.
type Item struct {
	ID         string   `gorm:"primaryKey;size:36" json:"id"`
	AuthorID   string   `gorm:"not null;index;size:64" json:"author_id"`
	AuthorName string   `json:"author_name"`
	AuthorRole string   `gorm:"index;size:32" json:"author_role"`
	Title      string   `gorm:"not null" json:"title"`
	Body       string   `gorm:"type:text;not null" json:"body"`
	Tags       []string `gorm:"serializer:json" json:"tags"`
	Images     []string `gorm:"serializer:json" json:"images"`
	// LikeCount is not persisted; computed at query time
	LikeCount int `gorm:"->;-:migration" json:"like_count"`
	// LikedByCurrentUser indicates whether the requesting user liked this item (computed)
	LikedByCurrentUser bool `gorm:"->;-:migration" json:"liked_by_current_user"`
	// CommentCount is not persisted; computed at query time
	CommentCount int            `gorm:"->;-:migration" json:"comment_count"`
	Version      int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName keeps the reference API's table named after what it stores.
func (Item) TableName() string { return "posts" }

// SameEntity reports whether a and b are copies of the same logical item.
func SameEntity(a, b *Item) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID
}

// Clone returns a deep copy so cached items never share slices with callers.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.Tags != nil {
		out.Tags = append([]string(nil), i.Tags...)
	}
	if i.Images != nil {
		out.Images = append([]string(nil), i.Images...)
	}
	return &out
}

// ApplyLike sets the liked state and adjusts the count, clamping at zero.
// Applying the state the item already has is a no-op, so repeated delivery of
// the same server result never double counts. Returns whether anything changed.
func (i *Item) ApplyLike(liked bool) bool {
	if i.LikedByCurrentUser == liked {
		return false
	}
	if liked {
		i.LikeCount++
	} else {
		i.LikeCount--
	}
	if i.LikeCount < 0 {
		i.LikeCount = 0
	}
	i.LikedByCurrentUser = liked
	return true
}

// ItemPatch is an edit submitted against a known version.
type ItemPatch struct {
	Title   *string  `json:"title,omitempty"`
	Body    *string  `json:"body,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Images  []string `json:"images,omitempty"`
	Version int64    `json:"version"`
}

// Validate rejects patches that would blank required fields or carry no version.
func (p ItemPatch) Validate() error {
	if p.Version <= 0 {
		return NewValidationError("version is required")
	}
	if p.Title != nil && *p.Title == "" {
		return NewValidationError("Title cannot be empty")
	}
	if p.Body != nil && *p.Body == "" {
		return NewValidationError("Body cannot be empty")
	}
	if p.Title == nil && p.Body == nil && p.Tags == nil && p.Images == nil {
		return NewValidationError("Nothing to update")
	}
	return nil
}

// Like is a per-user like row used by the reference content API.
type Like struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	PostID    string    `gorm:"primaryKey;size:36" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Follow records that FollowerID follows FolloweeID; it scopes the following feed.
type Follow struct {
	FollowerID string    `gorm:"primaryKey;size:64" json:"follower_id"`
	FolloweeID string    `gorm:"primaryKey;size:64;index" json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}
