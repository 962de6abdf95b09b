package server

import (
	"feedsync/internal/feed"
	"feedsync/internal/middleware"
	"feedsync/internal/models"
	"feedsync/internal/scroll"
	"feedsync/internal/session"

	"github.com/gofiber/fiber/v2"
)

const sessionLocal = "session"

// withSession attaches the caller's session, creating it on first use.
// Must run after AuthRequired.
func (s *Server) withSession(c *fiber.Ctx) error {
	sess := s.sessions.Get(middleware.UserID(c), middleware.Token(c))
	sess.Touch()
	c.Locals(sessionLocal, sess)
	return c.Next()
}

func sessionOf(c *fiber.Ctx) *session.Session {
	return c.Locals(sessionLocal).(*session.Session)
}

func badBody(c *fiber.Ctx) error {
	return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
}

// parseBody decodes an optional JSON body into dst.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(dst)
}

// FeedResponse pairs a fetch outcome with the feed as it stands afterwards.
type FeedResponse struct {
	Result feed.Result `json:"result"`
	View   feed.View   `json:"view"`
}

// FetchRequest is the body of POST /feeds/:type/fetch.
type FetchRequest struct {
	Filter models.Filter `json:"filter"`
	Reset  bool          `json:"reset"`
}

// MoreRequest is the body of POST /feeds/:type/more.
type MoreRequest struct {
	Cursor string `json:"cursor"`
}

// ScrollResponse reports whether a viewport signal started a fetch.
type ScrollResponse struct {
	Fired  bool          `json:"fired"`
	Reason scroll.Reason `json:"reason"`
	View   feed.View     `json:"view"`
}

// Bootstrap handles POST /api/session/bootstrap. Per-feed failures are
// reported on the returned views.
func (s *Server) Bootstrap(c *fiber.Ctx) error {
	sess := sessionOf(c)
	_ = sess.Bootstrap(c.UserContext())

	views := make(map[models.FeedType]feed.View, len(models.AllFeedTypes))
	for _, ft := range models.AllFeedTypes {
		v, err := sess.View(ft)
		if err != nil {
			return models.Respond(c, err)
		}
		views[ft] = v
	}
	return c.JSON(fiber.Map{"feeds": views})
}

// Logout handles POST /api/session/logout: the session is torn down and its
// change streams closed.
func (s *Server) Logout(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	s.sessions.Logout(userID)
	s.hub.Disconnect(userID)
	return c.SendStatus(fiber.StatusNoContent)
}

// Reset handles POST /api/session/reset.
func (s *Server) Reset(c *fiber.Ctx) error {
	sessionOf(c).Reset()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) respondFeed(c *fiber.Ctx, ft models.FeedType, res feed.Result, fetchErr error) error {
	if fetchErr != nil {
		return models.Respond(c, fetchErr)
	}
	v, err := sessionOf(c).View(ft)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(FeedResponse{Result: res, View: v})
}

// GetFeed handles GET /api/session/feeds/:type
func (s *Server) GetFeed(c *fiber.Ctx) error {
	ft, err := models.ParseFeedType(c.Params("type"))
	if err != nil {
		return models.Respond(c, err)
	}
	v, err := sessionOf(c).View(ft)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(v)
}

// FetchInitial handles POST /api/session/feeds/:type/fetch
func (s *Server) FetchInitial(c *fiber.Ctx) error {
	ft, err := models.ParseFeedType(c.Params("type"))
	if err != nil {
		return models.Respond(c, err)
	}
	var req FetchRequest
	if err := parseBody(c, &req); err != nil {
		return badBody(c)
	}
	res, err := sessionOf(c).FetchInitial(c.UserContext(), ft, req.Filter, req.Reset)
	return s.respondFeed(c, ft, res, err)
}

// FetchMore handles POST /api/session/feeds/:type/more
func (s *Server) FetchMore(c *fiber.Ctx) error {
	ft, err := models.ParseFeedType(c.Params("type"))
	if err != nil {
		return models.Respond(c, err)
	}
	var req MoreRequest
	if err := parseBody(c, &req); err != nil {
		return badBody(c)
	}
	res, err := sessionOf(c).FetchMore(c.UserContext(), ft, req.Cursor)
	return s.respondFeed(c, ft, res, err)
}

// Scroll handles POST /api/session/feeds/:type/scroll
func (s *Server) Scroll(c *fiber.Ctx) error {
	ft, err := models.ParseFeedType(c.Params("type"))
	if err != nil {
		return models.Respond(c, err)
	}
	var sig scroll.Signal
	if err := parseBody(c, &sig); err != nil {
		return badBody(c)
	}
	sig.FeedType = ft

	sess := sessionOf(c)
	fired, reason, err := sess.Scroll(c.UserContext(), sig)
	if err != nil {
		return models.Respond(c, err)
	}
	v, err := sess.View(ft)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(ScrollResponse{Fired: fired, Reason: reason, View: v})
}

// ToggleLike handles POST /api/session/items/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	liked, err := sessionOf(c).ToggleLike(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(fiber.Map{"liked": liked})
}

// EditItem handles PUT /api/session/items/:id
func (s *Server) EditItem(c *fiber.Ctx) error {
	var patch models.ItemPatch
	if err := c.BodyParser(&patch); err != nil {
		return badBody(c)
	}
	item, err := sessionOf(c).EditItem(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(item)
}

// DeleteItem handles DELETE /api/session/items/:id
func (s *Server) DeleteItem(c *fiber.Ctx) error {
	if err := sessionOf(c).DeleteItem(c.UserContext(), c.Params("id")); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// OpenItem handles POST /api/session/items/:id/open
func (s *Server) OpenItem(c *fiber.Ctx) error {
	item, err := sessionOf(c).OpenItem(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(item)
}

// GetOpenItem handles GET /api/session/open-item
func (s *Server) GetOpenItem(c *fiber.Ctx) error {
	item := sessionOf(c).Registry().OpenItem()
	if item == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(item)
}

// CloseItem handles DELETE /api/session/open-item
func (s *Server) CloseItem(c *fiber.Ctx) error {
	sessionOf(c).CloseItem()
	return c.SendStatus(fiber.StatusNoContent)
}

// GetThread handles GET /api/session/items/:id/comments
func (s *Server) GetThread(c *fiber.Ctx) error {
	return c.JSON(sessionOf(c).Comments().Thread(c.Params("id")))
}

// LoadComments handles POST /api/session/items/:id/comments/load
func (s *Server) LoadComments(c *fiber.Ctx) error {
	var req struct {
		Refresh bool `json:"refresh"`
	}
	if err := parseBody(c, &req); err != nil {
		return badBody(c)
	}
	postID := c.Params("id")
	cc := sessionOf(c).Comments()
	if err := cc.LoadComments(c.UserContext(), postID, req.Refresh); err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(cc.Thread(postID))
}

// CreateComment handles POST /api/session/items/:id/comments. Without an
// explicit parent_id the selected reply target on this post is the parent.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var in models.NewCommentInput
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	postID := c.Params("id")
	cc := sessionOf(c).Comments()
	if in.ParentID == "" {
		if target := cc.ReplyTarget(); target != nil && target.PostID == postID {
			in.ParentID = target.ID
		}
	}
	created, err := cc.CreateComment(c.UserContext(), postID, in.Body, in.ParentID)
	if err != nil {
		return models.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// DeleteComment handles DELETE /api/session/items/:id/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	if err := sessionOf(c).Comments().DeleteComment(c.UserContext(), c.Params("id"), c.Params("commentId")); err != nil {
		return models.Respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type toggleRequest struct {
	Visible bool `json:"visible"`
}

// SetVisibility handles PUT /api/session/items/:id/comments/visibility
func (s *Server) SetVisibility(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	postID := c.Params("id")
	cc := sessionOf(c).Comments()
	if err := cc.SetVisibility(c.UserContext(), postID, req.Visible); err != nil {
		return models.Respond(c, err)
	}
	return c.JSON(cc.Thread(postID))
}

// SetComposeVisible handles PUT /api/session/items/:id/comments/compose
func (s *Server) SetComposeVisible(c *fiber.Ctx) error {
	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	postID := c.Params("id")
	cc := sessionOf(c).Comments()
	cc.SetComposeVisible(postID, req.Visible)
	return c.JSON(cc.Thread(postID))
}

// ReplyTargetRequest selects a loaded comment; an empty CommentID clears.
type ReplyTargetRequest struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

// SetReplyTarget handles PUT /api/session/reply-target
func (s *Server) SetReplyTarget(c *fiber.Ctx) error {
	var req ReplyTargetRequest
	if err := parseBody(c, &req); err != nil {
		return badBody(c)
	}
	cc := sessionOf(c).Comments()
	if req.CommentID == "" {
		cc.SelectReplyTarget(nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
	for _, cm := range cc.CommentsFor(req.PostID) {
		if cm.ID == req.CommentID {
			cc.SelectReplyTarget(cm)
			return c.JSON(cc.ReplyTarget())
		}
	}
	return models.Respond(c, models.NewNotFoundError("Comment", req.CommentID))
}

// GetReplyTarget handles GET /api/session/reply-target
func (s *Server) GetReplyTarget(c *fiber.Ctx) error {
	target := sessionOf(c).Comments().ReplyTarget()
	if target == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(target)
}
