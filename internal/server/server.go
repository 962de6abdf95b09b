// Package server is the session gateway: it hosts one feed engine session per
// signed-in user and exposes it to the renderer over HTTP and a websocket
// change stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/cache"
	"feedsync/internal/config"
	"feedsync/internal/feed"
	"feedsync/internal/middleware"
	"feedsync/internal/models"
	"feedsync/internal/notifications"
	"feedsync/internal/session"
	"feedsync/internal/transport"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	sessions       *session.Manager
	hub            *notifications.Hub
	newBackend     session.BackendFactory
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
}

// Option customizes a Server.
type Option func(*Server)

// WithBackendFactory replaces the HTTP content API client, e.g. in tests.
func WithBackendFactory(f session.BackendFactory) Option {
	return func(s *Server) { s.newBackend = f }
}

// NewServer builds the gateway. redisClient may be nil.
func NewServer(cfg *config.Config, redisClient *redis.Client, opts ...Option) *Server {
	s := &Server{
		config:         cfg,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("feedsync-gateway"),
		hub:            notifications.NewHub(),
	}
	s.newBackend = func(_ string, token session.TokenSource) session.Backend {
		return transport.NewClient(cfg.ContentAPIURL,
			transport.WithTimeout(cfg.FetchTimeout()),
			transport.WithToken(token))
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = session.NewManager(s.newBackend, session.ManagerConfig{
		Options: session.Options{
			PageLimit:    cfg.FeedPageLimit,
			FetchTimeout: cfg.FetchTimeout(),
			LookaheadPx:  cfg.ScrollLookaheadPx,
		},
		IdleTimeout: cfg.SessionIdle(),
	})
	s.sessions.OnCreate(func(sess *session.Session) {
		userID := sess.UserID
		sess.Subscribe(func(ev feed.Event) {
			s.hub.Forward(userID, ev)
		})
	})
	return s
}

// Sessions exposes the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the gateway.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	mutate := middleware.RateLimit(s.redis, 120, time.Minute, "session-mutation")

	api := app.Group("/api/session", middleware.AuthRequired, s.withSession)
	api.Post("/bootstrap", s.Bootstrap)
	api.Post("/logout", s.Logout)
	api.Post("/reset", s.Reset)

	api.Get("/feeds/:type", s.GetFeed)
	api.Post("/feeds/:type/fetch", s.FetchInitial)
	api.Post("/feeds/:type/more", s.FetchMore)
	api.Post("/feeds/:type/scroll", s.Scroll)

	api.Post("/items/:id/like", mutate, s.ToggleLike)
	api.Put("/items/:id", mutate, s.EditItem)
	api.Delete("/items/:id", mutate, s.DeleteItem)
	api.Post("/items/:id/open", s.OpenItem)
	api.Get("/open-item", s.GetOpenItem)
	api.Delete("/open-item", s.CloseItem)

	api.Get("/items/:id/comments", s.GetThread)
	api.Post("/items/:id/comments/load", s.LoadComments)
	api.Post("/items/:id/comments", mutate, s.CreateComment)
	api.Delete("/items/:id/comments/:commentId", mutate, s.DeleteComment)
	api.Put("/items/:id/comments/visibility", s.SetVisibility)
	api.Put("/items/:id/comments/compose", s.SetComposeVisible)
	api.Put("/reply-target", s.SetReplyTarget)
	api.Get("/reply-target", s.GetReplyTarget)

	ws := app.Group("/ws", upgradeOnly, middleware.WebSocketAuthRequired)
	ws.Get("/session", s.ChangeStreamHandler())
}

// App builds the fiber application without listening.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "feedsync gateway",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, errors.New(fe.Message))
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "up", "sessions": s.sessions.Len(), "time": time.Now()})
}

// ReadinessCheck pings redis when configured. The content API is checked by
// its own probe.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	redisStatus := "unavailable"
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}
	status := fiber.StatusOK
	if redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status": redisStatus,
		"checks": fiber.Map{"redis": redisStatus},
		"time":   time.Now(),
	})
}

// Start runs the idle sweeper and listens on PORT.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel
	go s.sessions.Run(ctx)

	app := s.App()
	middleware.Logger.Info("gateway starting", slog.String("port", s.config.Port), slog.String("content_api", s.config.ContentAPIURL))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down change stream", slog.String("error", err.Error()))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}
	middleware.Logger.Info("gateway shutdown complete")
	return nil
}

// Run loads dependencies from cfg, serves until SIGINT or SIGTERM, then shuts down.
func Run(cfg *config.Config) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return RunWithQuit(cfg, quit)
}

// RunWithQuit behaves like Run but waits on quit instead of OS signals.
func RunWithQuit(cfg *config.Config, quit <-chan os.Signal) error {
	cache.InitRedis(cfg.RedisURL)
	s := NewServer(cfg, cache.GetClient())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway stopped: %w", err)
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
