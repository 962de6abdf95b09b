// Package comments caches comment threads per post: load-once tracking,
// newest-first ordering, reply-target selection and per-post visibility.
package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"feedsync/internal/feed"
	"feedsync/internal/models"
	"feedsync/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// State is the load state of one post's thread.
type State string

const (
	StateNotLoaded State = "not_loaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateError     State = "error"
)

// Backend is the part of the content API that serves comments.
type Backend interface {
	FetchComments(ctx context.Context, postID string) (*models.CommentPage, error)
	CreateComment(ctx context.Context, postID, body, parentID string) (*models.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
}

type thread struct {
	// seq numbers loads; only the latest one may install its response.
	seq      uint64
	state    State
	comments []*models.Comment
	count    int
	err      *models.AppError
}

// Thread is a read-only copy of one post's cached thread.
type Thread struct {
	PostID         string            `json:"post_id"`
	State          State             `json:"state"`
	Comments       []*models.Comment `json:"comments"`
	CommentCount   int               `json:"comment_count"`
	Error          string            `json:"error,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Visible        bool              `json:"visible"`
	ComposeVisible bool              `json:"compose_visible"`
}

// Cache holds every thread of one session.
type Cache struct {
	backend Backend
	bus     *feed.Bus
	log     *observability.EngineLogger
	group   singleflight.Group

	mu          sync.RWMutex
	epoch       uint64
	threads     map[string]*thread
	visible     map[string]struct{}
	compose     map[string]struct{}
	replyTarget *models.Comment
}

// NewCache creates an empty Cache publishing on bus.
func NewCache(backend Backend, bus *feed.Bus) *Cache {
	if bus == nil {
		bus = feed.NewBus()
	}
	return &Cache{
		backend: backend,
		bus:     bus,
		log:     observability.NewEngineLogger("comments"),
		threads: make(map[string]*thread),
		visible: make(map[string]struct{}),
		compose: make(map[string]struct{}),
	}
}

func (c *Cache) threadLocked(postID string) *thread {
	th, ok := c.threads[postID]
	if !ok {
		th = &thread{state: StateNotLoaded}
		c.threads[postID] = th
	}
	return th
}

func changed(postID string) feed.Event {
	return feed.Event{Kind: feed.EventCommentsChanged, PostID: postID}
}

var errNoPost = models.NewValidationError("post id is required")

// LoadComments fetches postID's thread. It does nothing when the thread is
// loaded or loading unless refresh is set. A refresh always issues a new
// request, and responses to loads superseded by a refresh or a Reset are
// dropped.
func (c *Cache) LoadComments(ctx context.Context, postID string, refresh bool) error {
	if strings.TrimSpace(postID) == "" {
		return errNoPost
	}

	c.mu.Lock()
	th := c.threadLocked(postID)
	if !refresh && (th.state == StateLoaded || th.state == StateLoading) {
		c.mu.Unlock()
		observability.CommentLoadsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	th.state = StateLoading
	th.seq++
	seq := th.seq
	key := fmt.Sprintf("%d:%s", c.epoch, postID)
	c.mu.Unlock()
	c.bus.Publish(changed(postID))

	span, ctx := observability.NewSpan(ctx, "comments.load",
		attribute.String("post.id", postID),
		attribute.Bool("comments.refresh", refresh),
	)
	defer span.End()

	if refresh {
		c.group.Forget(key)
	}
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.backend.FetchComments(ctx, postID)
	})

	c.mu.Lock()
	if cur, ok := c.threads[postID]; !ok || cur != th || th.seq != seq {
		c.mu.Unlock()
		observability.CommentLoadsTotal.WithLabelValues("stale").Inc()
		return nil
	}
	if err != nil {
		th.state = StateError
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			appErr = models.NewNetworkError(err)
		}
		th.err = appErr
		c.mu.Unlock()

		span.SetError(err)
		observability.CommentLoadsTotal.WithLabelValues("failed").Inc()
		c.log.LogError(ctx, "load_comments", err, map[string]interface{}{"post_id": postID})
		c.bus.Publish(changed(postID))
		return err
	}

	page, _ := v.(*models.CommentPage)
	var list []*models.Comment
	count := 0
	if page != nil {
		list = make([]*models.Comment, 0, len(page.Comments))
		for _, cm := range page.Comments {
			if cm != nil {
				list = append(list, cm.Clone())
			}
		}
		count = page.CommentCount
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	th.comments = list
	th.count = count
	th.state = StateLoaded
	th.err = nil
	c.mu.Unlock()

	observability.CommentLoadsTotal.WithLabelValues("loaded").Inc()
	c.log.LogDebug(ctx, "load_comments", map[string]interface{}{
		"post_id": postID,
		"count":   count,
		"shared":  shared,
	})
	c.bus.Publish(changed(postID))
	return nil
}

// CreateComment posts a comment and, on success, puts it at the front of the
// post's cached list and clears the reply target. A thread that was never
// loaded stays unloaded. The count is left to the next load.
func (c *Cache) CreateComment(ctx context.Context, postID, body, parentID string) (*models.Comment, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, errNoPost
	}
	in := models.NewCommentInput{Body: strings.TrimSpace(body), ParentID: parentID}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	span, ctx := observability.NewSpan(ctx, "comments.create", attribute.String("post.id", postID))
	defer span.End()

	created, err := c.backend.CreateComment(ctx, postID, in.Body, parentID)
	if err != nil {
		span.SetError(err)
		c.log.LogError(ctx, "create_comment", err, map[string]interface{}{"post_id": postID})
		return nil, err
	}
	created = created.Clone()

	c.mu.Lock()
	if created.Parent == nil && parentID != "" && c.replyTarget != nil && c.replyTarget.ID == parentID {
		created.Parent = c.replyTarget.Snapshot()
	}
	if th, ok := c.threads[postID]; ok && th.state != StateNotLoaded {
		dup := false
		for _, cm := range th.comments {
			if cm.ID == created.ID {
				dup = true
				break
			}
		}
		if !dup {
			th.comments = append([]*models.Comment{created.Clone()}, th.comments...)
		}
	}
	c.replyTarget = nil
	c.mu.Unlock()

	c.log.LogInfo(ctx, "create_comment", map[string]interface{}{
		"post_id":    postID,
		"comment_id": created.ID,
	})
	c.bus.Publish(changed(postID), feed.Event{Kind: feed.EventReplyTargetChanged, PostID: postID})
	return created, nil
}

// DeleteComment deletes commentID and removes it from postID's cached list.
// The count is left to the next load.
func (c *Cache) DeleteComment(ctx context.Context, postID, commentID string) error {
	if strings.TrimSpace(commentID) == "" {
		return models.NewValidationError("comment id is required")
	}
	span, ctx := observability.NewSpan(ctx, "comments.delete", attribute.String("comment.id", commentID))
	defer span.End()

	if err := c.backend.DeleteComment(ctx, commentID); err != nil {
		span.SetError(err)
		c.log.LogError(ctx, "delete_comment", err, map[string]interface{}{"comment_id": commentID})
		return err
	}

	events := []feed.Event{changed(postID)}
	c.mu.Lock()
	if th, ok := c.threads[postID]; ok {
		for i, cm := range th.comments {
			if cm.ID == commentID {
				th.comments = append(th.comments[:i:i], th.comments[i+1:]...)
				break
			}
		}
	}
	if c.replyTarget != nil && c.replyTarget.ID == commentID {
		c.replyTarget = nil
		events = append(events, feed.Event{Kind: feed.EventReplyTargetChanged, PostID: postID})
	}
	c.mu.Unlock()

	c.bus.Publish(events...)
	return nil
}

// SelectReplyTarget sets the comment being replied to; nil clears it.
func (c *Cache) SelectReplyTarget(target *models.Comment) {
	c.mu.Lock()
	c.replyTarget = target.Clone()
	postID := ""
	if target != nil {
		postID = target.PostID
	}
	c.mu.Unlock()
	c.bus.Publish(feed.Event{Kind: feed.EventReplyTargetChanged, PostID: postID})
}

// ReplyTarget returns the current reply target or nil.
func (c *Cache) ReplyTarget() *models.Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.replyTarget.Clone()
}

// SetVisibility shows or hides postID's thread. Showing a thread that was
// never loaded loads it.
func (c *Cache) SetVisibility(ctx context.Context, postID string, visible bool) error {
	if strings.TrimSpace(postID) == "" {
		return errNoPost
	}
	c.mu.Lock()
	setMember(c.visible, postID, visible)
	load := false
	if visible {
		th, ok := c.threads[postID]
		load = !ok || th.state == StateNotLoaded
	}
	c.mu.Unlock()
	c.bus.Publish(changed(postID))

	if load {
		return c.LoadComments(ctx, postID, false)
	}
	return nil
}

// SetComposeVisible shows or hides the compose form of postID.
func (c *Cache) SetComposeVisible(postID string, visible bool) {
	c.mu.Lock()
	setMember(c.compose, postID, visible)
	c.mu.Unlock()
	c.bus.Publish(changed(postID))
}

func setMember(set map[string]struct{}, key string, on bool) {
	if on {
		set[key] = struct{}{}
	} else {
		delete(set, key)
	}
}

// CommentsFor returns a copy of postID's cached list, newest first.
func (c *Cache) CommentsFor(postID string) []*models.Comment {
	return c.Thread(postID).Comments
}

// CountFor returns the server-reported comment count of postID.
func (c *Cache) CountFor(postID string) int {
	return c.Thread(postID).CommentCount
}

// StateFor returns the load state of postID.
func (c *Cache) StateFor(postID string) State {
	return c.Thread(postID).State
}

// IsVisible reports whether postID's thread is shown.
func (c *Cache) IsVisible(postID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.visible[postID]
	return ok
}

// IsComposeVisible reports whether postID's compose form is shown.
func (c *Cache) IsComposeVisible(postID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.compose[postID]
	return ok
}

// Thread returns a snapshot of postID's thread.
func (c *Cache) Thread(postID string) Thread {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Thread{PostID: postID, State: StateNotLoaded, Comments: []*models.Comment{}}
	_, out.Visible = c.visible[postID]
	_, out.ComposeVisible = c.compose[postID]
	th, ok := c.threads[postID]
	if !ok {
		return out
	}
	out.State = th.state
	out.CommentCount = th.count
	out.Comments = make([]*models.Comment, len(th.comments))
	for i, cm := range th.comments {
		out.Comments[i] = cm.Clone()
	}
	if th.err != nil {
		out.Error = th.err.Message
		out.ErrorCode = th.err.Code
	}
	return out
}

// Reset drops every thread, visibility flag and the reply target. Loads in
// flight when Reset runs are discarded on arrival.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.epoch++
	c.threads = make(map[string]*thread)
	c.visible = make(map[string]struct{})
	c.compose = make(map[string]struct{})
	c.replyTarget = nil
	c.mu.Unlock()
}
