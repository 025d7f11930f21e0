package upload

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/framelight/api/internal/model"
)

const (
	// rescanInterval is the cadence of the fallback completion re-scan.
	rescanInterval = time.Second
	// rescanSafetyWindow bounds how long the fallback re-scan keeps running
	// after the batch was started or last re-armed.
	rescanSafetyWindow = 60 * time.Second

	defaultMaxConcurrent = 6
)

// ErrUploadsInFlight is returned when a batch is closed while any task is
// still pending or uploading.
var ErrUploadsInFlight = errors.New("batch has uploads in flight")

// ErrTaskNotRetryable is returned when retrying a task that is not in a
// terminal error state.
var ErrTaskNotRetryable = errors.New("task is not in a retryable state")

// Queue owns the upload tasks of one user-initiated batch and detects batch
// completion through two independent signals: a per-task resolution counter
// and a periodic re-scan of the visible task list. Either signal may declare
// completion; a compare-and-set guard makes the downstream dispatch fire at
// most once per arming.
type Queue struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time

	uploader   Uploader
	onComplete func(successful []model.AssetRef)
	onUpdate   func(view model.BatchView)

	maxConcurrent int
	rescanEvery   time.Duration
	safetyWindow  time.Duration

	mu             sync.Mutex
	tasks          []*Task
	total          int
	completed      int
	rescanDeadline time.Time
	rescanRunning  bool
	closed         bool

	dispatchTriggered atomic.Bool

	done chan struct{}
}

// NewQueue creates a batch coordinator. onComplete receives the successful,
// not-yet-dispatched subset in drop order once every outstanding task has
// resolved; onUpdate receives a fresh view after every observable change.
// Either callback may be nil.
func NewQueue(id, workspaceID string, uploader Uploader, maxConcurrent int, onComplete func([]model.AssetRef), onUpdate func(model.BatchView)) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Queue{
		ID:            id,
		WorkspaceID:   workspaceID,
		CreatedAt:     time.Now(),
		uploader:      uploader,
		onComplete:    onComplete,
		onUpdate:      onUpdate,
		maxConcurrent: maxConcurrent,
		rescanEvery:   rescanInterval,
		safetyWindow:  rescanSafetyWindow,
		done:          make(chan struct{}),
	}
}

// Submit accepts a non-empty, duplicate-screened file list, creates one task
// per file in drop order and starts their uploads immediately.
func (q *Queue) Submit(files []File) error {
	if len(files) == 0 {
		return errors.New("no files to upload")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("batch is closed")
	}
	tasks := make([]*Task, 0, len(files))
	for _, f := range files {
		tasks = append(tasks, newTask(f))
	}
	q.tasks = append(q.tasks, tasks...)
	q.total += len(tasks)
	q.rescanDeadline = time.Now().Add(q.safetyWindow)
	startRescan := !q.rescanRunning
	if startRescan {
		q.rescanRunning = true
	}
	q.mu.Unlock()

	q.publish()

	if startRescan {
		go q.rescanLoop()
	}

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(q.maxConcurrent)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				q.run(t)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return nil
}

// run drives one task through its upload. The task always reaches a terminal
// state: failures that defy classification still resolve to a generic error.
func (q *Queue) run(t *Task) {
	t.setUploading()
	q.publish()

	result, err := q.uploader.UploadAsset(context.Background(), q.WorkspaceID, t.File, func(percent int) {
		t.setProgress(percent)
		q.publish()
	})

	if err != nil {
		t.resolveError(ClassifyError(err))
		log.Printf("Upload failed for %q in batch %s: %v", t.File.Name, q.ID, err)
	} else {
		t.resolveSuccess(result)
	}

	q.taskResolved(t)
}

// taskResolved increments the completion counter exactly once per task and
// feeds the guarded completion check.
func (q *Queue) taskResolved(t *Task) {
	if t.counted.CompareAndSwap(false, true) {
		q.mu.Lock()
		q.completed++
		q.mu.Unlock()
	}
	q.publish()
	q.checkCompletion()
}

// rescanLoop is the second completion signal: it periodically counts terminal
// tasks in the visible list and feeds the same guarded transition as the
// counter path. It stops once the safety window elapses or the batch closes;
// a retry re-arms the deadline and restarts it if needed.
func (q *Queue) rescanLoop() {
	ticker := time.NewTicker(q.rescanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			q.stopRescan()
			return
		case <-ticker.C:
			q.mu.Lock()
			expired := time.Now().After(q.rescanDeadline)
			q.mu.Unlock()
			if expired {
				q.stopRescan()
				return
			}
			q.checkCompletion()
		}
	}
}

func (q *Queue) stopRescan() {
	q.mu.Lock()
	q.rescanRunning = false
	q.mu.Unlock()
}

// checkCompletion declares batch completion when either signal agrees that
// every outstanding task is terminal. The dispatch trigger is a single
// compare-and-set, so concurrent resolutions and re-scan ticks cannot fire the
// downstream dispatch twice for one arming.
func (q *Queue) checkCompletion() {
	q.mu.Lock()

	if q.closed || q.total == 0 {
		q.mu.Unlock()
		return
	}

	byCounter := q.completed >= q.total
	byScan := q.terminalCountLocked() >= q.total
	if !byCounter && !byScan {
		q.mu.Unlock()
		return
	}

	if !q.dispatchTriggered.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return
	}

	successful := make([]model.AssetRef, 0, len(q.tasks))
	for _, t := range q.tasks {
		if t.dispatched {
			continue
		}
		if res := t.Result(); res != nil {
			t.dispatched = true
			successful = append(successful, model.AssetRef{
				AssetID:    res.AssetID,
				StorageURL: res.StorageURL,
			})
		}
	}
	onComplete := q.onComplete
	q.mu.Unlock()

	if onComplete != nil {
		onComplete(successful)
	}
}

func (q *Queue) terminalCountLocked() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status().IsTerminal() {
			n++
		}
	}
	return n
}

// Retry creates a fresh task for the file of a failed task and re-arms
// completion detection. Terminal siblings keep their state; the batch
// completes again once the retried task resolves.
func (q *Queue) Retry(taskID string) (*Task, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.New("batch is closed")
	}

	var failed *Task
	for _, t := range q.tasks {
		if t.ID == taskID {
			failed = t
			break
		}
	}
	if failed == nil {
		q.mu.Unlock()
		return nil, errors.New("task not found")
	}
	if failed.Status() != model.UploadStatusError {
		q.mu.Unlock()
		return nil, ErrTaskNotRetryable
	}

	retry := newTask(failed.File)
	retry.RetryOf = failed.ID
	q.tasks = append(q.tasks, retry)
	q.total++

	// Re-arm: the retried task re-enters the outstanding count, so the next
	// completion must be detectable and dispatchable again.
	q.dispatchTriggered.Store(false)
	q.rescanDeadline = time.Now().Add(q.safetyWindow)
	startRescan := !q.rescanRunning
	if startRescan {
		q.rescanRunning = true
	}
	q.mu.Unlock()

	q.publish()
	if startRescan {
		go q.rescanLoop()
	}
	go q.run(retry)

	return retry, nil
}

// RetryAllFailed retries every task currently in a terminal error state.
func (q *Queue) RetryAllFailed() ([]*Task, error) {
	q.mu.Lock()
	var failedIDs []string
	for _, t := range q.tasks {
		if t.Status() == model.UploadStatusError {
			failedIDs = append(failedIDs, t.ID)
		}
	}
	q.mu.Unlock()

	retried := make([]*Task, 0, len(failedIDs))
	for _, id := range failedIDs {
		t, err := q.Retry(id)
		if err != nil {
			return retried, err
		}
		retried = append(retried, t)
	}
	return retried, nil
}

// CanClose reports whether every task has reached a terminal state.
func (q *Queue) CanClose() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminalCountLocked() == len(q.tasks)
}

// Close refuses while any upload is in flight; otherwise it clears the batch
// state and stops the re-scan loop.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	if q.terminalCountLocked() != len(q.tasks) {
		q.mu.Unlock()
		return ErrUploadsInFlight
	}
	q.closed = true
	q.tasks = nil
	q.total = 0
	q.completed = 0
	q.mu.Unlock()

	close(q.done)
	return nil
}

// View returns an immutable snapshot of the batch for rendering.
func (q *Queue) View() model.BatchView {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]model.UploadTaskView, 0, len(q.tasks))
	for _, t := range q.tasks {
		tasks = append(tasks, t.View())
	}
	return model.BatchView{
		BatchID:        q.ID,
		WorkspaceID:    q.WorkspaceID,
		Tasks:          tasks,
		CompletedCount: q.completed,
		TotalCount:     q.total,
		CreatedAt:      q.CreatedAt,
	}
}

func (q *Queue) publish() {
	if q.onUpdate == nil {
		return
	}
	q.onUpdate(q.View())
}
