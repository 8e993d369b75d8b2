package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lifeline/internal/config"
	"lifeline/internal/coordinator"
	"lifeline/internal/handlers"
	"lifeline/internal/jobs"
	"lifeline/internal/logging"
	"lifeline/internal/middleware"
	"lifeline/internal/models"
	"lifeline/internal/recovery"
	"lifeline/internal/registry"
	"lifeline/internal/services"
	"lifeline/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Lifeline Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// Optional emergency contact overrides
	if cfg.EmergencyContactsFile != "" {
		if err := recovery.LoadContactsFile(cfg.EmergencyContactsFile); err != nil {
			log.Fatalf("❌ Failed to load emergency contacts file: %v", err)
		}
		log.Printf("✅ Emergency contacts loaded from %s (%d contacts)", cfg.EmergencyContactsFile, len(recovery.Contacts()))
	}

	// Initialize Redis (optional - enables cross-instance session fan-out)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (single-instance mode)", err)
			redisService = nil
		} else {
			log.Println("✅ Redis connected successfully")
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - single-instance mode")
	}

	// Initialize JWT auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		var err error
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT auth initialized")
	} else if cfg.Environment == "production" {
		log.Fatal("❌ JWT_SECRET is required in production")
	} else {
		log.Println("⚠️ JWT_SECRET not set - auth disabled (development mode)")
	}

	// Core state
	reg := registry.New(nil)

	// Prometheus metrics
	metrics := services.InitMetrics(reg)
	log.Println("✅ Prometheus metrics initialized")

	// Recovery engine
	engine := recovery.NewEngine(nil)
	engine.SetMetrics(metrics)

	// When the dispatch collaborator is unreachable past the first retry,
	// answer with the standing hotline contacts instead of nothing.
	engine.RegisterFallback("emergency-dispatch", func(ctx context.Context) (any, error) {
		statuses := make([]models.DeliveryStatus, 0, len(recovery.Contacts()))
		for _, contact := range recovery.Contacts() {
			statuses = append(statuses, models.DeliveryStatus{
				Contact:   contact.Contact,
				Delivered: false,
				Detail:    "dispatch unreachable, contact directly via " + contact.Method,
			})
		}
		return statuses, nil
	})
	log.Println("✅ Recovery engine initialized")

	// Emergency dispatch handoff (no external dispatcher wired yet; the
	// service still answers with per-contact statuses and dedups handoffs)
	notifyService := services.NewNotifyService(nil, nil)

	// Cross-instance pub/sub fabric
	var pubsubService *services.PubSubService
	if redisService != nil {
		pubsubService = services.NewPubSubService(redisService, uuid.New().String())
		if err := pubsubService.Start(); err != nil {
			log.Fatalf("❌ Failed to start pub/sub: %v", err)
		}
	}

	// Session coordinator
	var publisher coordinator.Publisher
	if pubsubService != nil {
		publisher = pubsubService
	}
	coord := coordinator.New(reg, engine, publisher, notifyService, coordinator.Config{
		MaxMessageLength:  cfg.MaxMessageLength,
		CriticalThreshold: cfg.CriticalThreshold,
	}, nil)
	log.Println("✅ Session coordinator initialized")

	if pubsubService != nil {
		pubsubService.OnSessionEvent(coord.HandleRemoteEvent)
		pubsubService.OnMonitoringEvent(func(ev models.ServerEvent) {
			for _, sub := range reg.MonitoringSubscribers() {
				sub.SafeSend(ev)
			}
		})
	}

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register(jobs.NewMetricsBroadcastJob(reg, pubsubService, cfg.MetricsInterval))
	jobScheduler.Register(jobs.NewHealthCheckJob(reg, cfg.HealthCheckInterval, cfg.IdleThreshold, nil))
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:        "Lifeline v1.0",
		ReadTimeout:    120 * time.Second,
		WriteTimeout:   120 * time.Second,
		IdleTimeout:    300 * time.Second,
		BodyLimit:      1 * 1024 * 1024, // messages are capped far below this anyway
		ReadBufferSize: 16384,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("lifeline")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	allowCredentials := allowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))

	// Rate limiting: a global per-IP limit plus a tighter handshake limit on
	// the crisis endpoint. Chat traffic is limited per connection in the
	// handler, never here.
	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use(middleware.GlobalRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(reg, redisService)
	crisisHandler := handlers.NewCrisisHandler(reg, coord, metrics)

	// Routes
	app.Get("/health", healthHandler.Handle)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}

	app.Use("/ws/crisis", middleware.HandshakeRateLimiter(rateLimitConfig))
	app.Use("/ws/crisis", middleware.LocalAuthMiddleware(jwtAuth))
	app.Get("/ws/crisis", websocket.New(crisisHandler.Handle, wsConfig))

	// Start server
	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Crisis endpoint: ws://localhost:%s/ws/crisis", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: metrics broadcast (every %v), health probe (every %v, idle threshold %v)",
		cfg.MetricsInterval, cfg.HealthCheckInterval, cfg.IdleThreshold)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}
		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
