package handler

import (
	"errors"
	"io"
	"mime/multipart"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/framelight/api/internal/middleware"
	"github.com/framelight/api/internal/service"
	"github.com/framelight/api/internal/upload"
	"github.com/framelight/api/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// batchID validates the batch ID path parameter.
func (h *BatchHandler) batchID(c *fiber.Ctx) (string, error) {
	id := c.Params("batchId")
	if err := h.validator.Var(id, "required,uuid4"); err != nil {
		return "", response.ValidationError(c, "A valid batch ID is required", nil)
	}
	return id, nil
}

// Create handles POST /api/batches
// Accepts a multipart form with one or more "files" parts, screens them for
// duplicates and starts every remaining upload immediately.
func (h *BatchHandler) Create(c *fiber.Ctx) error {
	workspaceID := middleware.GetWorkspaceID(c)
	if workspaceID == "" {
		return response.Unauthorized(c, "Workspace could not be resolved")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form is required", nil)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return response.ValidationError(c, "At least one file is required", nil)
	}

	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, fileFromHeader(fh))
	}

	result, err := h.service.CreateBatch(c.Context(), workspaceID, files)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.Created(c, result)
}

// Get handles GET /api/batches/:batchId
func (h *BatchHandler) Get(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}

	view, err := h.service.GetBatch(batchID)
	if err != nil {
		return h.batchError(c, err)
	}

	return response.OK(c, view)
}

// RetryTask handles POST /api/batches/:batchId/tasks/:taskId/retry
// Restarts a single failed upload task within the batch.
func (h *BatchHandler) RetryTask(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}
	taskID := c.Params("taskId")
	if err := h.validator.Var(taskID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "A valid task ID is required", nil)
	}

	view, err := h.service.RetryTask(batchID, taskID)
	if err != nil {
		if errors.Is(err, upload.ErrTaskNotRetryable) {
			return response.ValidationError(c, "Only failed tasks can be retried", nil)
		}
		return h.batchError(c, err)
	}

	return response.OK(c, view)
}

// RetryFailed handles POST /api/batches/:batchId/retry-failed
// Restarts every failed upload task of the batch in one operation.
func (h *BatchHandler) RetryFailed(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}

	retried, err := h.service.RetryFailed(batchID)
	if err != nil {
		return h.batchError(c, err)
	}

	return response.OK(c, fiber.Map{"retried": retried})
}

// Close handles POST /api/batches/:batchId/close
// Refused with 409 while any upload is still running.
func (h *BatchHandler) Close(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}

	if err := h.service.CloseBatch(batchID); err != nil {
		if errors.Is(err, upload.ErrUploadsInFlight) {
			return response.Conflict(c, "Uploads are still in progress")
		}
		return h.batchError(c, err)
	}

	return response.NoContent(c)
}

// Progress handles GET /api/batches/:batchId/progress
func (h *BatchHandler) Progress(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}

	snapshot, ok := h.service.Progress(batchID)
	if !ok {
		return response.NotFound(c, "No tagging progress tracked for this batch")
	}

	return response.OK(c, snapshot)
}

// DismissProgress handles POST /api/batches/:batchId/progress/dismiss
func (h *BatchHandler) DismissProgress(c *fiber.Ctx) error {
	batchID, err := h.batchID(c)
	if err != nil {
		return err
	}

	h.service.DismissProgress(batchID)
	return response.NoContent(c)
}

func (h *BatchHandler) batchError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrBatchNotFound) {
		return response.NotFound(c, "Batch not found")
	}
	return response.ServiceError(c, err.Error())
}

func fileFromHeader(fh *multipart.FileHeader) upload.File {
	return upload.File{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
