package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	PostKeyPrefix     = "post:%s"
	CommentsKeyPrefix = "post:%s:comments"
)

const (
	PostTTL     = 30 * time.Minute
	CommentsTTL = 2 * time.Minute
)

func PostKey(postID string) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func CommentsKey(postID string) string {
	return fmt.Sprintf(CommentsKeyPrefix, postID)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// InvalidatePost drops the cached post and its comment listing.
func InvalidatePost(ctx context.Context, postID string) {
	Invalidate(ctx, PostKey(postID), CommentsKey(postID))
}
