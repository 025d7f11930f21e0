package model

import "time"

// TaggingJob represents one classification dispatch for an upload batch.
type TaggingJob struct {
	ID          string      `json:"id"`
	BatchID     string      `json:"batchId"`
	WorkspaceID string      `json:"workspaceId"`
	Mode        TaggingMode `json:"mode"`
	Assets      []AssetRef  `json:"assets"`
	BatchHandle string      `json:"batchHandle,omitempty"`
	Status      JobStatus   `json:"status"`
	Error       *string     `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}
