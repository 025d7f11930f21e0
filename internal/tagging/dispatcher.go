package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/framelight/api/internal/model"
)

const (
	// TaskTypeDispatch is the asynq task type for classification dispatches.
	TaskTypeDispatch = "tagging:dispatch"

	// QueueName is the asynq queue carrying dispatch tasks.
	QueueName = "tagging"

	// AsyncBatchThreshold is the batch size at which classification switches
	// from the immediate call to an asynchronous job submission. Fixed design
	// constant: it amortizes per-call overhead against the remote service's
	// call-volume pricing.
	AsyncBatchThreshold = 20

	// MaxRetries bounds re-delivery of a dispatch whose items were not yet
	// visible to the remote service.
	MaxRetries = 3

	// RetryDelay is the fixed backoff between dispatch attempts.
	RetryDelay = 2 * time.Second
)

// TaskEnqueuer is the slice of asynq.Client the dispatcher needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DispatchPayload is the asynq task payload for one dispatch.
type DispatchPayload struct {
	JobID string `json:"jobId"`
}

// Dispatcher issues at most one classification dispatch per completed upload
// batch. The caller's completion guard enforces the at-most-once property;
// the dispatcher decides the mode and hands the job to the worker queue.
type Dispatcher struct {
	jobs    JobStore
	enqueue TaskEnqueuer
}

func NewDispatcher(jobs JobStore, enqueuer TaskEnqueuer) *Dispatcher {
	return &Dispatcher{
		jobs:    jobs,
		enqueue: enqueuer,
	}
}

// Dispatch submits the successful subset of a batch for classification. An
// empty subset makes no remote call at all. Failure here never propagates to
// the uploads; tagging is best-effort enrichment.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID, workspaceID string, assets []model.AssetRef) error {
	if len(assets) == 0 {
		log.Printf("Batch %s completed with no successful uploads, skipping dispatch", batchID)
		return nil
	}

	mode := model.TaggingModeImmediate
	if len(assets) >= AsyncBatchThreshold {
		mode = model.TaggingModeAsyncBatch
	}

	job := &model.TaggingJob{
		ID:          uuid.New().String(),
		BatchID:     batchID,
		WorkspaceID: workspaceID,
		Mode:        mode,
		Assets:      assets,
		Status:      model.JobStatusQueued,
		CreatedAt:   time.Now(),
	}

	if err := d.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save tagging job: %w", err)
	}

	task, err := newDispatchTask(job.ID)
	if err != nil {
		return fmt.Errorf("failed to create dispatch task: %w", err)
	}

	_, err = d.enqueue.Enqueue(task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(MaxRetries),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	log.Printf("Dispatched tagging job %s for batch %s (%d assets, mode=%s)", job.ID, batchID, len(assets), mode)
	return nil
}

// FixedRetryDelay is the asynq retry delay function for the tagging queue:
// every re-delivery waits the same fixed interval.
func FixedRetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if t.Type() == TaskTypeDispatch {
		return RetryDelay
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

func newDispatchTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(DispatchPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatch, data), nil
}
