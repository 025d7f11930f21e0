package model

// WebSocket message types
const (
	WSMessageTypeTasks     = "tasks"
	WSMessageTypeProgress  = "progress"
	WSMessageTypeWarning   = "warning"
	WSMessageTypeDismissed = "dismissed"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSTasksMessage carries the current upload task list for a batch
type WSTasksMessage struct {
	Type    string           `json:"type"`
	BatchID string           `json:"batchId"`
	Tasks   []UploadTaskView `json:"tasks"`
}

// WSProgressMessage carries a tagging progress snapshot
type WSProgressMessage struct {
	Type     string           `json:"type"`
	BatchID  string           `json:"batchId"`
	Snapshot ProgressSnapshot `json:"snapshot"`
}

// WSWarningMessage carries a non-fatal warning toast
type WSWarningMessage struct {
	Type    string `json:"type"`
	BatchID string `json:"batchId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSDismissedMessage signals that the progress view was dismissed
type WSDismissedMessage struct {
	Type    string `json:"type"`
	BatchID string `json:"batchId"`
}
