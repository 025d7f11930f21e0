package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framelight/api/internal/auth"
	"github.com/framelight/api/internal/dedupe"
	"github.com/framelight/api/internal/handler"
	"github.com/framelight/api/internal/middleware"
	"github.com/framelight/api/internal/progress"
	"github.com/framelight/api/internal/service"
	"github.com/framelight/api/internal/store"
	"github.com/framelight/api/internal/tagging"
	ws "github.com/framelight/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients, so storage uses the mock fallback. Redis must be running;
// tests skip when it is not.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — DB 15 to avoid collision with a dev instance)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping e2e: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	hub := ws.NewHub()
	go hub.Run()

	// Stores and domain services
	assetStore := store.NewAssetStore(redisClient)
	workspaceFeed := store.NewWorkspaceFeed(assetStore)
	jobStore := tagging.NewRedisJobStore(redisClient)

	dispatcher := tagging.NewDispatcher(jobStore, asynqClient)
	tracker := progress.NewTracker(assetStore, workspaceFeed, hub)
	uploader := service.NewAssetUploader(nil, assetStore, 200*1024*1024) // nil storage → mock URLs
	detector := dedupe.NewContentHashDetector()
	batchService := service.NewBatchService(uploader, dispatcher, tracker, hub, detector, 6)

	batchHandler := handler.NewBatchHandler(batchService, validator.New())
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 200 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"tagger":  false,
				"storage": false,
				"auth":    true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated); very high rate limits so tests don't get blocked
	api := app.Group("/api", authMiddleware.Authenticate())

	batches := api.Group("/batches")
	batches.Post("/", rateLimiter.BatchLimit(10000), batchHandler.Create)
	batches.Get("/:batchId", batchHandler.Get)
	batches.Post("/:batchId/tasks/:taskId/retry", rateLimiter.UploadLimit(10000), batchHandler.RetryTask)
	batches.Post("/:batchId/retry-failed", rateLimiter.UploadLimit(10000), batchHandler.RetryFailed)
	batches.Post("/:batchId/close", batchHandler.Close)
	batches.Get("/:batchId/progress", batchHandler.Progress)
	batches.Post("/:batchId/progress/dismiss", batchHandler.DismissProgress)

	return &testApp{app: app}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID:      "test-user-123",
		Email:       "test@example.com",
		WorkspaceID: "test-workspace-123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "framelight-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doMultipartUpload posts the named files as one multipart batch request.
func doMultipartUpload(t *testing.T, app *fiber.App, path string, files map[string]string) (*http.Response, error) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range files {
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{`form-data; name="files"; filename="` + name + `"`}
		h["Content-Type"] = []string{"image/jpeg"}
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write multipart part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
