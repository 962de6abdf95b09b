// Package contentapi is the reference content API the feed engine talks to:
// posts, likes, comments and the follow graph over gorm.
package contentapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedsync/internal/cache"
	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/middleware"
	"feedsync/internal/models"
	"feedsync/internal/repository"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	followRepo     repository.FollowRepository
}

// NewServer connects the database and redis and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient()), nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; caching and rate limiting then degrade to no-ops.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *Server {
	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("feedsync-contentapi"),
		postRepo:       repository.NewPostRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		followRepo:     repository.NewFollowRepository(db),
	}
}

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
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       86400,
	}))

	if s.config.IsProduction() {
		app.Use(limiter.New(limiter.Config{
			Max:        300,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
					Error: "Too many requests, please try again later.",
				})
			},
		}))
	}
}

// SetupRoutes configures all routes for the content API.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	writeLimit := middleware.RateLimit(s.redis, 60, time.Minute, "content-write")

	posts := api.Group("/posts")
	posts.Get("/", middleware.OptionalAuth, s.ListPosts)
	posts.Get("/search", middleware.OptionalAuth, s.SearchPosts)
	posts.Get("/:id", middleware.OptionalAuth, s.GetPost)
	posts.Get("/:id/comments", middleware.OptionalAuth, s.ListComments)
	posts.Post("/", middleware.AuthRequired, writeLimit, s.CreatePost)
	posts.Put("/:id", middleware.AuthRequired, writeLimit, s.UpdatePost)
	posts.Delete("/:id", middleware.AuthRequired, writeLimit, s.DeletePost)
	posts.Post("/:id/like", middleware.AuthRequired, writeLimit, s.ToggleLike)
	posts.Post("/:id/comments", middleware.AuthRequired, writeLimit, s.CreateComment)

	api.Get("/feed/following", middleware.AuthRequired, s.FollowingFeed)
	api.Delete("/comments/:id", middleware.AuthRequired, writeLimit, s.DeleteComment)

	users := api.Group("/users")
	users.Get("/:id/posts", middleware.OptionalAuth, s.UserPosts)
	users.Post("/:id/follow", middleware.AuthRequired, writeLimit, s.Follow)
	users.Delete("/:id/follow", middleware.AuthRequired, writeLimit, s.Unfollow)
}

// App builds the fiber application without listening.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "feedsync content API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, fmt.Errorf("%s", fe.Message))
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
	return c.JSON(fiber.Map{"status": "up", "time": time.Now()})
}

// ReadinessCheck reports database and redis health.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "unhealthy"
	}
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	// Redis is optional here; only the database gates readiness.
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{"database": dbStatus, "redis": redisStatus},
		"time":   time.Now(),
	})
}

// Start listens on CONTENT_API_PORT.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("content API starting", slog.String("port", s.config.ContentAPIPort))
	return app.Listen(":" + s.config.ContentAPIPort)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}
	middleware.Logger.Info("content API shutdown complete")
	return nil
}
