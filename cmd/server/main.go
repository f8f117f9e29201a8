package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/config"
	"agentforge/internal/database"
	"agentforge/internal/fallback"
	"agentforge/internal/handlers"
	"agentforge/internal/jobs"
	"agentforge/internal/logging"
	"agentforge/internal/middleware"
	"agentforge/internal/orchestrator"
	"agentforge/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// stores is the persistence backend selected at start-up
type stores struct {
	sessions  services.SessionStore
	projects  services.ProjectStore
	documents services.DocumentStore
	ping      handlers.HealthCheck
	close     func()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting agentforge server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s)", cfg.Port, cfg.SessionBackend)

	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s store: %v", cfg.SessionBackend, err)
	}
	defer st.close()

	// Redis makes the per-session invocation lock cluster-wide (optional)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (using in-process session locks)", err)
			redisService = nil
		} else {
			log.Println("✅ Redis connected successfully")
			defer redisService.Close()
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - using in-process session locks")
	}

	artifacts, err := services.NewArtifactService(cfg.StorageDir)
	if err != nil {
		log.Fatalf("❌ Failed to prepare artifact storage: %v", err)
	}

	fallbackGenerator, err := fallback.New()
	if err != nil {
		log.Fatalf("❌ Failed to load fallback catalog: %v", err)
	}

	structuredLogger := logging.NewLogger(cfg.Environment)

	deps := orchestrator.Dependencies{
		Sessions:  st.sessions,
		Artifacts: artifacts,
		Fallback:  fallbackGenerator,
		Logger:    structuredLogger,
	}

	resolver := services.NewSpecContextResolver(st.projects, st.documents)
	deps.Contexts = resolver

	if cfg.Agent.Enabled() {
		deps.Agent = agent.NewClient(cfg.Agent, structuredLogger)
	} else {
		log.Println("⚠️ AGENT_API_KEY not set - plans, builds and chat replies will be generated locally")
	}

	if cfg.MetricsEnabled {
		deps.Metrics = services.NewOrchestratorMetrics(prometheus.DefaultRegisterer)
	}

	orch := orchestrator.New(cfg.Agent, deps)

	// Plan/build/chat hold the session lock for at most the longest budget plus persistence time
	lockTTL := max(cfg.Agent.PlanTimeout, cfg.Agent.BuildTimeout, cfg.Agent.ChatTimeout) + time.Minute
	guard := services.NewInvocationGuard(redisService, lockTTL)

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	retentionJob := jobs.NewArtifactRetentionJob(artifacts, st.sessions, cfg.ArtifactRetention, cfg.ArtifactCleanupCron)
	if err := jobScheduler.Register("artifact-retention", retentionJob); err != nil {
		log.Printf("⚠️ Artifact retention disabled: %v", err)
	}
	reaper := jobs.NewStaleBuildReaper(st.sessions, cfg.Agent.BuildTimeout+cfg.StaleBuildGrace)
	if err := jobScheduler.Register("stale-build-reaper", reaper); err != nil {
		log.Printf("⚠️ Stale build reaper disabled: %v", err)
	}
	jobScheduler.Start()

	// Cancelled once the server stops accepting requests; in-flight invocations abort with it
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	app := fiber.New(fiber.Config{
		AppName: "agentforge",
		// A build can poll the remote agent for the whole build budget
		ReadTimeout:  30 * time.Second,
		WriteTimeout: lockTTL,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    10 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(baseCtx)
		return c.Next()
	})

	if cfg.MetricsEnabled {
		// Prometheus metrics middleware
		prom := fiberprometheus.New("agentforge")
		prom.RegisterAt(app, "/metrics")
		app.Use(prom.Middleware)
		log.Println("📊 Prometheus metrics endpoint enabled at /metrics")
	}

	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.InvocationRateLimit, cfg.Environment)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Invocations=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.InvocationMax,
	)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Health
	checks := map[string]handlers.HealthCheck{cfg.SessionBackend: st.ping}
	if redisService != nil {
		checks["redis"] = redisService.Ping
	}
	healthHandler := handlers.NewHealthHandler(orch.RemoteEnabled(), cfg.SessionBackend, checks)
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	handlers.RegisterRoutes(api,
		handlers.NewCodegenSessionHandler(st.sessions, st.projects, st.documents, resolver, orch, artifacts, guard),
		handlers.NewProjectHandler(st.projects, st.documents),
		middleware.InvocationRateLimiter(rateLimitConfig),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func() {
		log.Println("\n🛑 Shutting down server...")

		// Stop background jobs
		if err := jobScheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}

		// Give running invocations a moment, then abort the rest; their sessions are marked as error
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
		cancelBase()
	}

	log.Printf("✅ Server listening on :%s (remote agent: %v)", cfg.Port, orch.RemoteEnabled())
	listen := func() error { return app.Listen(":" + cfg.Port) }
	if err := serveUntilSignal(listen, shutdown, sigChan); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	log.Println("👋 Server stopped")
}

// serveUntilSignal runs listen and, once a signal arrives, blocks until shutdown has finished
func serveUntilSignal(listen func() error, shutdown func(), signals <-chan os.Signal) error {
	done := make(chan struct{})
	go func() {
		<-signals
		shutdown()
		close(done)
	}()

	if err := listen(); err != nil {
		return err
	}
	<-done
	return nil
}

// openStores connects the configured backend and prepares its schema or indexes
func openStores(cfg *config.Config) (*stores, error) {
	if cfg.SessionBackend == "mongo" {
		mongoDB, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mongoDB.Initialize(ctx); err != nil {
			mongoDB.Close(context.Background())
			return nil, err
		}

		return &stores{
			sessions:  services.NewMongoSessionStore(mongoDB),
			projects:  services.NewMongoProjectStore(mongoDB),
			documents: services.NewMongoDocumentStore(mongoDB),
			ping:      mongoDB.Ping,
			close:     func() { mongoDB.Close(context.Background()) },
		}, nil
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return &stores{
		sessions:  services.NewSQLSessionStore(db),
		projects:  services.NewSQLProjectStore(db),
		documents: services.NewSQLDocumentStore(db),
		ping:      db.PingContext,
		close:     func() { db.Close() },
	}, nil
}
