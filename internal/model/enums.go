package model

// Upload task status
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusError     UploadStatus = "error"
)

// IsTerminal reports whether the status is a terminal upload state.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusSuccess || s == UploadStatusError
}

// Upload error codes
type UploadErrorCode string

const (
	UploadErrDuplicate         UploadErrorCode = "duplicate"
	UploadErrTooLarge          UploadErrorCode = "too_large"
	UploadErrUnsupportedFormat UploadErrorCode = "unsupported_format"
	UploadErrNetwork           UploadErrorCode = "network"
	UploadErrPermissionDenied  UploadErrorCode = "permission_denied"
	UploadErrSessionExpired    UploadErrorCode = "session_expired"
	UploadErrUnknown           UploadErrorCode = "unknown"
)

// Per-asset classification status
type TagStatus string

const (
	TagStatusPending    TagStatus = "pending"
	TagStatusProcessing TagStatus = "processing"
	TagStatusCompleted  TagStatus = "completed"
	TagStatusFailed     TagStatus = "failed"
)

// IsTerminal reports whether classification has finished for the asset.
func (s TagStatus) IsTerminal() bool {
	return s == TagStatusCompleted || s == TagStatusFailed
}

// Tagging modes
type TaggingMode string

const (
	TaggingModeImmediate  TaggingMode = "immediate"
	TaggingModeAsyncBatch TaggingMode = "async_batch"
)

// Tagging job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)
