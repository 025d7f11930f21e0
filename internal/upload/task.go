package upload

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/framelight/api/internal/model"
)

// Task tracks one file's upload lifecycle: pending → uploading → success|error.
// A task never leaves a terminal state; explicit retry creates a new task
// against the same file reference.
type Task struct {
	ID      string
	File    File
	RetryOf string // ID of the failed task this one replaces, if any

	mu        sync.Mutex
	status    model.UploadStatus
	progress  int
	result    *model.UploadResult
	uploadErr *model.UploadError

	// counted tracks the task's contribution to the batch completion counter
	// separately from the displayed status, so a task can be hidden or
	// re-rendered without double- or under-counting.
	counted atomic.Bool

	// dispatched marks inclusion in a classification dispatch. Guarded by the
	// owning queue's mutex.
	dispatched bool
}

func newTask(file File) *Task {
	return &Task{
		ID:     uuid.New().String(),
		File:   file,
		status: model.UploadStatusPending,
	}
}

func (t *Task) setUploading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == model.UploadStatusPending {
		t.status = model.UploadStatusUploading
	}
}

// setProgress records an upload percentage; regressions are dropped so the
// reported value is monotonically non-decreasing.
func (t *Task) setProgress(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != model.UploadStatusUploading {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > t.progress {
		t.progress = percent
	}
}

func (t *Task) resolveSuccess(result *model.UploadResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.status = model.UploadStatusSuccess
	t.progress = 100
	t.result = result
}

func (t *Task) resolveError(uploadErr model.UploadError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.status = model.UploadStatusError
	t.uploadErr = &uploadErr
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() model.UploadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the upload result, or nil unless the task succeeded.
func (t *Task) Result() *model.UploadResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// View returns an immutable snapshot for rendering.
func (t *Task) View() model.UploadTaskView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := model.UploadTaskView{
		ID:       t.ID,
		Filename: t.File.Name,
		Status:   t.status,
		Progress: t.progress,
	}
	if t.result != nil {
		r := *t.result
		view.Result = &r
	}
	if t.uploadErr != nil {
		e := *t.uploadErr
		view.Error = &e
	}
	return view
}
