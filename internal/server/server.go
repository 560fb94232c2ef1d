// Package server contains the HTTP and WebSocket handlers of the application API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/Grisenxx/divisionwebsite/docs" // swagger docs
	"github.com/Grisenxx/divisionwebsite/internal/abuse"
	"github.com/Grisenxx/divisionwebsite/internal/auth"
	"github.com/Grisenxx/divisionwebsite/internal/bootstrap"
	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/database"
	"github.com/Grisenxx/divisionwebsite/internal/discord"
	"github.com/Grisenxx/divisionwebsite/internal/dispatch"
	"github.com/Grisenxx/divisionwebsite/internal/gamestatus"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/notifications"
	"github.com/Grisenxx/divisionwebsite/internal/policy"
	"github.com/Grisenxx/divisionwebsite/internal/ratelimit"
	"github.com/Grisenxx/divisionwebsite/internal/repository"
	"github.com/Grisenxx/divisionwebsite/internal/service"
	"github.com/Grisenxx/divisionwebsite/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
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
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	catalog      *catalog.Catalog
	applications *service.ApplicationService
	detector     *abuse.Detector
	limiter      *ratelimit.Limiter
	sessions     *session.Store
	discord      *discord.Client
	verifier     *auth.Verifier
	notifier     *notifications.Notifier
	hub          *notifications.Hub
	status       *gamestatus.Poller
}

// NewServer connects to PostgreSQL and Redis and builds a Server. Sessions
// live in Redis, so it is required.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{RequireRedis: true})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB and Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Server, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(rdb, cfg.SessionSecret, cfg.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	dc := discord.NewClient(discord.Config{
		BaseURL:      cfg.DiscordAPIBaseURL,
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURI:  cfg.DiscordRedirectURI,
		BotToken:     cfg.DiscordBotToken,
		GuildID:      cfg.DiscordGuildID,
		Timeout:      cfg.DiscordTimeout(),
	})

	detector := abuse.NewDetector(repository.NewSecurityRepository(db), abuse.Config{
		Threshold:     cfg.BlockViolationThreshold,
		Window:        cfg.BlockWindow(),
		BlockDuration: cfg.BlockDuration(),
	})

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          rdb,
		promMiddleware: middleware.InitMetrics("division-api"),
		catalog:        cat,
		detector:       detector,
		limiter:        newLimiter(cfg, rdb),
		sessions:       sessions,
		discord:        dc,
		verifier:       auth.NewVerifier(sessions, dc),
		hub:            notifications.NewHub(),
		status: gamestatus.NewPoller(gamestatus.Config{
			Host: cfg.FiveMServerIP,
			Port: cfg.FiveMServerPort,
		}, rdb),
	}

	// Every instance publishes through Redis so all hubs see every event.
	var events service.EventPublisher = s.hub
	if rdb != nil {
		s.notifier = notifications.NewNotifier(rdb)
		events = s.notifier
	}

	s.applications = service.NewApplicationService(service.ApplicationDeps{
		Applications: repository.NewApplicationRepository(db),
		Catalog:      cat,
		Policy:       policy.New(cat.ReviewerMap(), cat.DefaultReviewerRole),
		Gate:         service.NewGate(detector, s.limiter, s.verifier),
		SideEffects: dispatch.New(dc, cat, dispatch.Config{
			AnnounceWebhook: cfg.DiscordWebhookURL,
			LogsWebhook:     cfg.DiscordLogsWebhookURL,
			Timeout:         cfg.DiscordTimeout(),
		}),
		Events:   events,
		Cooldown: cfg.SubmissionCooldown(),
	})

	return s, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load application catalog: %w", err)
	}
	if cfg.DefaultReviewerRoleID != "" {
		cat.DefaultReviewerRole = cfg.DefaultReviewerRoleID
	}
	return cat, nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client) *ratelimit.Limiter {
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimitBackend == "redis" && rdb != nil {
		store = ratelimit.NewRedisStore(rdb)
	}
	var opts []ratelimit.Option
	if !cfg.RateLimitEnabled {
		opts = append(opts, ratelimit.Disabled())
	}
	return ratelimit.New(store, opts...)
}

// App builds the Fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:      "Division API",
		ErrorHandler: ErrorHandler,
		ProxyHeader:  s.config.TrustedProxyHeader,
		BodyLimit:    64 * 1024,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
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

	// CORS runs before anything that can short-circuit so error responses
	// still carry CORS headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	authGroup := api.Group("/auth")
	authGroup.Get("/discord", middleware.RateLimit(s.limiter, ratelimit.AuthRule), s.DiscordLogin)
	authGroup.Get("/callback", middleware.RateLimit(s.limiter, ratelimit.AuthRule), s.DiscordCallback)
	authGroup.Post("/logout", s.Logout)
	authGroup.Get("/me", middleware.PrincipalRequired(s.verifier), s.Me)

	api.Get("/application-types", s.GetApplicationTypes)
	api.Get("/server-status", s.GetServerStatus)

	// Block, throttle and principal checks for these run inside the
	// application service so they share one ordering.
	apps := api.Group("/applications")
	apps.Post("/", s.SubmitApplication)
	apps.Get("/check", s.CheckCooldown)
	apps.Get("/search", s.SearchApplications)
	apps.Get("/", s.ListApplications)
	apps.Patch("/:id", s.DecideApplication)

	admin := api.Group("/admin",
		middleware.RateLimit(s.limiter, ratelimit.AdminRule),
	)
	adminRoles := middleware.RoleRequired(s.config.AdminRoles())
	admin.Get("/security", middleware.PrincipalRequired(s.verifier), adminRoles, s.GetSecurity)
	admin.Delete("/security", middleware.PrincipalRequired(s.verifier), adminRoles, s.DeleteSecurity)
	admin.Post("/unblock-ip", middleware.PrincipalRequired(s.verifier), adminRoles, s.UnblockIP)
	admin.Post("/clear-rate-limits", middleware.PrincipalRequired(s.verifier), adminRoles, s.ClearRateLimits)
	admin.Get("/feed", middleware.WebSocketPrincipalRequired(s.verifier), adminRoles, s.AdminFeed())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start wires the live feed and serves HTTP until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if s.notifier != nil {
		if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			return fmt.Errorf("start live feed wiring: %w", err)
		}
	}

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port), slog.String("env", s.config.Env))
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
		middleware.Logger.Error("error shutting down live feed", slog.String("error", err.Error()))
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

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
