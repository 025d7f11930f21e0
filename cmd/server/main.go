package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framelight/api/internal/auth"
	"github.com/framelight/api/internal/client"
	"github.com/framelight/api/internal/config"
	"github.com/framelight/api/internal/dedupe"
	"github.com/framelight/api/internal/handler"
	"github.com/framelight/api/internal/middleware"
	"github.com/framelight/api/internal/progress"
	"github.com/framelight/api/internal/service"
	"github.com/framelight/api/internal/store"
	"github.com/framelight/api/internal/tagging"
	ws "github.com/framelight/api/internal/websocket"
	"github.com/framelight/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize tagger client
	taggerClient := client.NewTaggerClient(&cfg.Tagger)

	// Initialize R2 client (optional - continues with mock storage if not configured)
	var storage client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, using mock storage")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		var err error
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize stores
	assetStore := store.NewAssetStore(redisClient)
	workspaceFeed := store.NewWorkspaceFeed(assetStore)
	jobStore := tagging.NewRedisJobStore(redisClient)

	// Initialize domain services
	dispatcher := tagging.NewDispatcher(jobStore, asynqClient)
	tracker := progress.NewTracker(assetStore, workspaceFeed, hub)
	uploader := service.NewAssetUploader(storage, assetStore, cfg.Upload.MaxFileSize)
	detector := dedupe.NewContentHashDetector()
	batchService := service.NewBatchService(uploader, dispatcher, tracker, hub, detector, cfg.Upload.MaxConcurrent)

	// Initialize handlers
	batchHandler := handler.NewBatchHandler(batchService, validate)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxFileSize) * 2,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"tagger":  taggerClient.IsConfigured(),
				"storage": storage != nil,
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Batch routes
	batches := api.Group("/batches")
	batches.Post("/", rateLimiter.BatchLimit(cfg.RateLimit.BatchesPerHour), batchHandler.Create)
	batches.Get("/:batchId", batchHandler.Get)
	batches.Post("/:batchId/tasks/:taskId/retry", rateLimiter.UploadLimit(cfg.RateLimit.UploadsPerHour), batchHandler.RetryTask)
	batches.Post("/:batchId/retry-failed", rateLimiter.UploadLimit(cfg.RateLimit.UploadsPerHour), batchHandler.RetryFailed)
	batches.Post("/:batchId/close", batchHandler.Close)
	batches.Get("/:batchId/progress", batchHandler.Progress)
	batches.Post("/:batchId/progress/dismiss", batchHandler.DismissProgress)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
		batchID := c.Params("batchId")
		hub.HandleConnection(c, batchID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobStore, taggerClient, assetStore, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobStore tagging.JobStore,
	taggerClient *client.TaggerClient,
	assetStore *store.AssetStore,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tagging.QueueName: 10,
			},
			RetryDelayFunc: tagging.FixedRetryDelay,
			LogLevel:       asynqLogLevel,
		},
	)

	taggingWorker := worker.NewTaggingWorker(jobStore, taggerClient, assetStore, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tagging.TaskTypeDispatch, taggingWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
