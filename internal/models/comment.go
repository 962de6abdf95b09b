package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment belongs to one Item. Parent is a one-level quote snapshot, not a tree link.
type Comment struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	PostID     string           `gorm:"not null;index;size:36" json:"post_id"`
	AuthorID   string           `gorm:"not null;size:64" json:"author_id"`
	AuthorName string           `json:"author_name"`
	Body       string           `gorm:"type:text;not null" json:"body"`
	ParentID   *string          `gorm:"size:36" json:"parent_id,omitempty"`
	Parent     *CommentSnapshot `gorm:"serializer:json" json:"parent,omitempty"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
	DeletedAt  gorm.DeletedAt   `gorm:"index" json:"-"`
}

// CommentSnapshot is the quoted copy of a parent comment taken at reply time.
type CommentSnapshot struct {
	ID         string `json:"id"`
	AuthorName string `json:"author_name"`
	Body       string `json:"body"`
}

// Snapshot returns the quote form of c.
func (c *Comment) Snapshot() *CommentSnapshot {
	if c == nil {
		return nil
	}
	return &CommentSnapshot{ID: c.ID, AuthorName: c.AuthorName, Body: c.Body}
}

// CommentPage is the response of a comment listing.
type CommentPage struct {
	Comments     []*Comment `json:"comments"`
	CommentCount int        `json:"comment_count"`
}

// NewCommentInput is the payload for creating a comment.
type NewCommentInput struct {
	Body     string `json:"body"`
	ParentID string `json:"parent_id,omitempty"`
}

const maxCommentLen = 10000

// Validate checks the comment body.
func (in NewCommentInput) Validate() error {
	if in.Body == "" {
		return NewValidationError("Content is required")
	}
	if len(in.Body) > maxCommentLen {
		return NewValidationError("Comment too long (max 10000 characters)")
	}
	return nil
}

// Clone returns a copy that shares nothing with c.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentID != nil {
		id := *c.ParentID
		out.ParentID = &id
	}
	if c.Parent != nil {
		p := *c.Parent
		out.Parent = &p
	}
	return &out
}
