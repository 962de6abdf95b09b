package repository

import (
	"context"
	"errors"
	"time"

	"feedsync/internal/cache"
	"feedsync/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByPost(ctx context.Context, postID string) (*models.CommentPage, error)
	Delete(ctx context.Context, id string) error
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// Create stores comment. A ParentID is resolved into a quote snapshot; the
// parent must belong to the same post.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var posts int64
		if err := tx.Model(&models.Item{}).Where("id = ?", comment.PostID).Count(&posts).Error; err != nil {
			return err
		}
		if posts == 0 {
			return models.NewNotFoundError("Post", comment.PostID)
		}

		if comment.ParentID != nil && *comment.ParentID != "" {
			var parent models.Comment
			err := tx.Where("id = ? AND post_id = ?", *comment.ParentID, comment.PostID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewValidationError("Reply target does not exist on this post")
			}
			if err != nil {
				return err
			}
			comment.Parent = parent.Snapshot()
		} else {
			comment.ParentID = nil
			comment.Parent = nil
		}

		if comment.ID == "" {
			comment.ID = uuid.NewString()
		}
		if comment.CreatedAt.IsZero() {
			comment.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		}
		return tx.Create(comment).Error
	})
	if err != nil {
		return err
	}
	cache.InvalidatePost(ctx, comment.PostID)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Comment", id)
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByPost returns the post's comments newest first with their count.
func (r *commentRepository) ListByPost(ctx context.Context, postID string) (*models.CommentPage, error) {
	var posts int64
	if err := r.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", postID).Count(&posts).Error; err != nil {
		return nil, err
	}
	if posts == 0 {
		return nil, models.NewNotFoundError("Post", postID)
	}

	var page models.CommentPage
	err := cache.Aside(ctx, cache.CommentsKey(postID), &page, cache.CommentsTTL, func() error {
		var comments []*models.Comment
		if err := r.db.WithContext(ctx).
			Where("post_id = ?", postID).
			Order("created_at DESC").
			Order("id DESC").
			Find(&comments).Error; err != nil {
			return err
		}
		if comments == nil {
			comments = []*models.Comment{}
		}
		page = models.CommentPage{Comments: comments, CommentCount: len(comments)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Delete soft-deletes the comment. Replies keep their quote snapshot.
func (r *commentRepository) Delete(ctx context.Context, id string) error {
	comment, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Comment{}).Error; err != nil {
		return err
	}
	cache.InvalidatePost(ctx, comment.PostID)
	return nil
}
