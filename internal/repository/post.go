// Package repository provides the gorm data access layer of the content API.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/cache"
	"feedsync/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListQuery selects one page of posts as seen by ViewerID ("" for anonymous).
type ListQuery struct {
	models.Filter
	Limit    int
	Cursor   string
	ViewerID string
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Item) error
	GetByID(ctx context.Context, id, viewerID string) (*models.Item, error)
	List(ctx context.Context, q ListQuery) (*models.FeedPage, error)
	Update(ctx context.Context, id string, patch models.ItemPatch, viewerID string) (*models.Item, error)
	Delete(ctx context.Context, id string) error
	ToggleLike(ctx context.Context, userID, postID string) (liked bool, likeCount int, err error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Item) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if post.Version == 0 {
		post.Version = 1
	}
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) GetByID(ctx context.Context, id, viewerID string) (*models.Item, error) {
	var post models.Item
	load := func() error {
		return r.applyItemDetails(r.db.WithContext(ctx), viewerID).
			Where("posts.id = ?", id).
			First(&post).Error
	}

	// Only the anonymous view is shared between callers.
	var err error
	if viewerID == "" {
		err = cache.Aside(ctx, cache.PostKey(id), &post, cache.PostTTL, load)
	} else {
		err = load()
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, q ListQuery) (*models.FeedPage, error) {
	f := q.Filter.Normalize()
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	cur, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	ranked := f.Sort == models.SortTop || f.Sort == models.SortHot
	if cur != nil && ranked != (cur.ID == "") {
		return nil, models.NewValidationError("cursor does not match sort")
	}

	db, err := r.applyFilter(r.applyItemDetails(r.db.WithContext(ctx), q.ViewerID), f, q.ViewerID)
	if err != nil {
		return nil, err
	}

	offset := 0
	if ranked {
		if cur != nil {
			offset = cur.Offset
		}
		db = applySort(db, f.Sort).Offset(offset)
	} else {
		if cur != nil {
			db = db.Where("(posts.created_at < ? OR (posts.created_at = ? AND posts.id < ?))",
				cur.CreatedAt, cur.CreatedAt, cur.ID)
		}
		db = applySort(db, f.Sort)
	}

	var posts []*models.Item
	if err := db.Limit(limit + 1).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	page := &models.FeedPage{Items: posts}
	if len(posts) > limit {
		page.Items = posts[:limit]
		if ranked {
			page.NextCursor = encodeOffset(offset + limit)
		} else {
			last := page.Items[limit-1]
			page.NextCursor = encodeKeyset(last.CreatedAt, last.ID)
		}
	}
	if page.Items == nil {
		page.Items = []*models.Item{}
	}
	return page, nil
}

// applySort appends the ORDER BY clause for the requested sort. like_count and
// comment_count are SELECT aliases from applyItemDetails.
func applySort(db *gorm.DB, sort string) *gorm.DB {
	switch sort {
	case models.SortTop:
		return db.Order("like_count DESC").Order("posts.created_at DESC").Order("posts.id DESC")
	case models.SortHot:
		return db.Order("comment_count DESC").Order("like_count DESC").Order("posts.created_at DESC").Order("posts.id DESC")
	default:
		return db.Order("posts.created_at DESC").Order("posts.id DESC")
	}
}

func (r *postRepository) applyFilter(db *gorm.DB, f models.Filter, viewerID string) (*gorm.DB, error) {
	if (f.Following || f.Mentioned) && viewerID == "" {
		return nil, models.NewNotAuthenticatedError("sign in to filter by following or mentions")
	}
	if f.Following {
		db = db.Where("posts.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)", viewerID)
	}
	if f.Mentioned {
		db = db.Where("posts.body LIKE ?", "%@"+viewerID+"%")
	}
	if len(f.Roles) > 0 {
		db = db.Where("posts.author_role IN ?", f.Roles)
	}
	if f.AuthorID != "" {
		db = db.Where("posts.author_id = ?", f.AuthorID)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		db = db.Where("(LOWER(posts.title) LIKE ? OR LOWER(posts.body) LIKE ?)", like, like)
	}
	return db, nil
}

// applyItemDetails adds subqueries to fetch counts and liked status in a single query.
func (r *postRepository) applyItemDetails(db *gorm.DB, viewerID string) *gorm.DB {
	selectQuery := "posts.*, " +
		"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id AND comments.deleted_at IS NULL) AS comment_count, " +
		"(SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.id) AS like_count"

	db = db.Model(&models.Item{})
	if viewerID != "" {
		return db.Select(selectQuery+", EXISTS(SELECT 1 FROM likes WHERE likes.post_id = posts.id AND likes.user_id = ?) AS liked_by_current_user", viewerID)
	}
	return db.Select(selectQuery + ", false AS liked_by_current_user")
}

// Update applies patch only when the stored version equals patch.Version, and
// bumps the version. A mismatch, including one lost to a concurrent writer, is
// a VersionConflict.
func (r *postRepository) Update(ctx context.Context, id string, patch models.ItemPatch, viewerID string) (*models.Item, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Item
		if err := tx.Where("id = ?", id).First(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Post", id)
			}
			return err
		}
		if post.Version != patch.Version {
			return models.NewVersionConflictError(id, post.Version)
		}

		if patch.Title != nil {
			post.Title = *patch.Title
		}
		if patch.Body != nil {
			post.Body = *patch.Body
		}
		if patch.Tags != nil {
			post.Tags = patch.Tags
		}
		if patch.Images != nil {
			post.Images = patch.Images
		}
		post.Version = patch.Version + 1

		res := tx.Model(&post).
			Where("version = ?", patch.Version).
			Select("Title", "Body", "Tags", "Images", "Version", "UpdatedAt").
			Updates(&post)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewVersionConflictError(id, patch.Version)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache.InvalidatePost(ctx, id)
	return r.GetByID(ctx, id, viewerID)
}

func (r *postRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Item{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	cache.InvalidatePost(ctx, id)
	return nil
}

// ToggleLike flips userID's like on postID and returns the new state and count.
func (r *postRepository) ToggleLike(ctx context.Context, userID, postID string) (bool, int, error) {
	var liked bool
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Item{}).Where("id = ?", postID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.NewNotFoundError("Post", postID)
		}

		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			like := models.Like{UserID: userID, PostID: postID, CreatedAt: time.Now().UTC()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
				return err
			}
			liked = true
		}
		return tx.Model(&models.Like{}).Where("post_id = ?", postID).Count(&count).Error
	})
	if err != nil {
		return false, 0, err
	}
	cache.Invalidate(ctx, cache.PostKey(postID))
	return liked, int(count), nil
}
