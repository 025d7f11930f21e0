package upload

import (
	"context"
	"io"

	"github.com/framelight/api/internal/model"
)

// File is one dropped file within a batch. Open must return a fresh reader on
// every call so a failed task can be retried against the same file reference.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Uploader performs the network upload of a single file and returns the
// durable asset references. Implementations report progress as a monotone
// percentage through onProgress.
type Uploader interface {
	UploadAsset(ctx context.Context, workspaceID string, file File, onProgress func(percent int)) (*model.UploadResult, error)
}
