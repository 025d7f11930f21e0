package model

import "time"

// UploadResult holds the durable references produced by a successful upload.
type UploadResult struct {
	AssetID    string `json:"assetId"`
	StorageURL string `json:"storageUrl"`
}

// UploadError is a classified, user-facing upload failure.
type UploadError struct {
	Code    UploadErrorCode `json:"code"`
	Message string          `json:"message"`
}

// UploadTaskView is the immutable per-task view published to clients.
type UploadTaskView struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Status   UploadStatus  `json:"status"`
	Progress int           `json:"progress"`
	Result   *UploadResult `json:"result,omitempty"`
	Error    *UploadError  `json:"error,omitempty"`
}

// BatchView is the full re-renderable state of one upload batch.
type BatchView struct {
	BatchID        string           `json:"batchId"`
	WorkspaceID    string           `json:"workspaceId"`
	Tasks          []UploadTaskView `json:"tasks"`
	CompletedCount int              `json:"completedCount"`
	TotalCount     int              `json:"totalCount"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// CreateBatchResponse is returned when a batch is accepted.
type CreateBatchResponse struct {
	BatchID           string           `json:"batchId"`
	Tasks             []UploadTaskView `json:"tasks"`
	DuplicatesSkipped []string         `json:"duplicatesSkipped,omitempty"`
}
