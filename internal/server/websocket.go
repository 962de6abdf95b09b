package server

import (
	"encoding/json"
	"log/slog"
	"time"

	"feedsync/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// upgradeOnly rejects plain HTTP requests to the change stream.
func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type streamHello struct {
	Kind   string    `json:"kind"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// ChangeStreamHandler streams the caller's session events. Opening the
// stream creates the session when the user has none yet.
func (s *Server) ChangeStreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		token, _ := conn.Locals("token").(string)
		if userID == "" {
			middleware.Logger.Warn("change stream: unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		s.sessions.Get(userID, token).Touch()

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("change stream: register failed", slog.String("user_id", userID), slog.String("error", err.Error()))
			msg, _ := json.Marshal(fiber.Map{"error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			_ = conn.Close()
			return
		}
		middleware.Logger.Info("change stream connected", slog.String("user_id", userID))

		if hello, err := json.Marshal(streamHello{Kind: "connected", UserID: userID, At: time.Now().UTC()}); err == nil {
			client.TrySend(hello)
		}

		go client.WritePump()
		client.ReadPump()
		middleware.Logger.Info("change stream closed", slog.String("user_id", userID))
	})
}
