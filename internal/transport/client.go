// Package transport is the HTTP client of the content API. It implements
// every backend interface the engine consumes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds a single request when the caller's context does not.
const DefaultTimeout = 10 * time.Second

// Client talks to the content API on behalf of one user.
type Client struct {
	base  string
	hc    *http.Client
	token func() string
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sends requests through rt instead of http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.hc.Transport = otelhttp.NewTransport(rt)
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.hc.Timeout = d
	}
}

// WithToken attaches the bearer token returned by fn to every request.
func WithToken(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// NewClient creates a Client for the API rooted at base.
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		hc: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return models.NewInternalError(fmt.Errorf("encode request: %w", err))
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return models.NewInternalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return models.NewNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var er models.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jerr := json.Unmarshal(raw, &er); jerr != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(raw))
		}
		return models.FromStatus(resp.StatusCode, er)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return models.NewNetworkError(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// feedPath maps a feed type to its listing endpoint.
func feedPath(ft models.FeedType, q models.Query) (string, error) {
	switch ft {
	case models.FeedPublic:
		return "/api/posts", nil
	case models.FeedFollowing:
		return "/api/feed/following", nil
	case models.FeedSearch:
		return "/api/posts/search", nil
	case models.FeedProfile:
		if q.AuthorID == "" {
			return "", models.NewValidationError("author_id is required for the profile feed")
		}
		return "/api/users/" + url.PathEscape(q.AuthorID) + "/posts", nil
	}
	return "", models.NewValidationError("unknown feed type: " + string(ft))
}

// EncodeQuery renders q as URL parameters.
func EncodeQuery(q models.Query) url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Following {
		v.Set("following", "true")
	}
	if q.Mentioned {
		v.Set("mentioned", "true")
	}
	if len(q.Roles) > 0 {
		v.Set("roles", strings.Join(q.Roles, ","))
	}
	if q.Search != "" {
		v.Set("q", q.Search)
	}
	return v
}

// FetchFeed loads one page of ft.
func (c *Client) FetchFeed(ctx context.Context, ft models.FeedType, q models.Query) (*models.FeedPage, error) {
	path, err := feedPath(ft, q)
	if err != nil {
		return nil, err
	}
	var page models.FeedPage
	if err := c.do(ctx, http.MethodGet, path, EncodeQuery(q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetItem loads a single item.
func (c *Client) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(itemID), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// LikeResponse is the body of a like toggle.
type LikeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

// ToggleLike flips the caller's like and returns the new liked state.
func (c *Client) ToggleLike(ctx context.Context, itemID string) (bool, error) {
	var out LikeResponse
	if err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(itemID)+"/like", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Liked, nil
}

// UpdateItem submits patch; a stale patch.Version yields a VersionConflict.
func (c *Client) UpdateItem(ctx context.Context, itemID string, patch models.ItemPatch) (*models.Item, error) {
	var item models.Item
	if err := c.do(ctx, http.MethodPut, "/api/posts/"+url.PathEscape(itemID), nil, patch, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(itemID), nil, nil, nil)
}

func (c *Client) FetchComments(ctx context.Context, postID string) (*models.CommentPage, error) {
	var page models.CommentPage
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(postID)+"/comments", nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) CreateComment(ctx context.Context, postID, body, parentID string) (*models.Comment, error) {
	var out models.Comment
	in := models.NewCommentInput{Body: body, ParentID: parentID}
	if err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(postID)+"/comments", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(commentID), nil, nil, nil)
}
