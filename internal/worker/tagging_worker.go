package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/framelight/api/internal/client"
	"github.com/framelight/api/internal/model"
	"github.com/framelight/api/internal/tagging"
)

// TaggerAPI is the slice of the tagger client the worker needs.
type TaggerAPI interface {
	ClassifyItems(ctx context.Context, workspaceID string, items []model.AssetRef) ([]client.ItemResult, error)
	SubmitBatch(ctx context.Context, workspaceID string, items []model.AssetRef) (string, error)
}

// AssetTagger applies classification outcomes to asset records.
type AssetTagger interface {
	UpdateTagging(ctx context.Context, assetID string, status model.TagStatus, tags []string) (*model.Asset, error)
}

// Notifier surfaces non-fatal warnings to batch subscribers.
type Notifier interface {
	BroadcastWarning(batchID, code, message string)
}

// TaggingWorker processes classification dispatch tasks. A failure here never
// touches the uploads that produced the batch: a terminal dispatch failure is
// logged and the job abandoned, a consistency-lag failure is re-delivered by
// asynq with a fixed delay.
type TaggingWorker struct {
	jobs   tagging.JobStore
	tagger TaggerAPI
	assets AssetTagger
	hub    Notifier
}

func NewTaggingWorker(jobs tagging.JobStore, tagger TaggerAPI, assets AssetTagger, hub Notifier) *TaggingWorker {
	return &TaggingWorker{
		jobs:   jobs,
		tagger: tagger,
		assets: assets,
		hub:    hub,
	}
}

// ProcessTask handles one dispatch attempt.
func (w *TaggingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tagging.DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal dispatch payload: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.GetJob(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to load tagging job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	if retried, ok := asynq.GetRetryCount(ctx); ok {
		job.RetryCount = retried
	}
	job.Status = model.JobStatusRunning
	if err := w.jobs.SaveJob(ctx, job); err != nil {
		log.Printf("Failed to persist job %s state: %v", job.ID, err)
	}

	log.Printf("Processing tagging job %s (batch=%s mode=%s attempt=%d)", job.ID, job.BatchID, job.Mode, job.RetryCount+1)

	switch job.Mode {
	case model.TaggingModeAsyncBatch:
		return w.processAsync(ctx, job)
	default:
		return w.processImmediate(ctx, job)
	}
}

// processImmediate performs the single synchronous wire call for the batch and
// applies the returned tags to each asset record.
func (w *TaggingWorker) processImmediate(ctx context.Context, job *model.TaggingJob) error {
	results, err := w.tagger.ClassifyItems(ctx, job.WorkspaceID, job.Assets)
	if err != nil {
		return w.handleDispatchError(ctx, job, err)
	}

	byAsset := make(map[string][]string, len(results))
	for _, r := range results {
		byAsset[r.AssetID] = r.Tags
	}

	allEmpty := true
	for _, ref := range job.Assets {
		tags, ok := byAsset[ref.AssetID]
		status := model.TagStatusCompleted
		if !ok {
			// The service returned no verdict for this item; it stays terminal
			// so the progress view can still converge.
			status = model.TagStatusFailed
		}
		if len(tags) > 0 {
			allEmpty = false
		}
		if _, err := w.assets.UpdateTagging(ctx, ref.AssetID, status, tags); err != nil {
			log.Printf("Failed to apply tags to asset %s: %v", ref.AssetID, err)
		}
	}

	if allEmpty {
		log.Printf("Tagging job %s returned no tags for any item", job.ID)
		if w.hub != nil {
			w.hub.BroadcastWarning(job.BatchID, "NO_TAGS_APPLIED", "No tags were applied. Check your tagging configuration.")
		}
	}

	w.completeJob(ctx, job, "")
	return nil
}

// processAsync submits the batch as a remote job; per-item results land in the
// record store out of band and are observed by the progress tracker.
func (w *TaggingWorker) processAsync(ctx context.Context, job *model.TaggingJob) error {
	handle, err := w.tagger.SubmitBatch(ctx, job.WorkspaceID, job.Assets)
	if err != nil {
		return w.handleDispatchError(ctx, job, err)
	}

	w.completeJob(ctx, job, handle)
	log.Printf("Tagging job %s submitted as remote batch %s", job.ID, handle)
	return nil
}

// handleDispatchError separates the one retryable failure class, items not
// yet visible to the remote service, from the terminal ones.
func (w *TaggingWorker) handleDispatchError(ctx context.Context, job *model.TaggingJob, err error) error {
	if errors.Is(err, client.ErrItemsNotVisible) {
		if err := w.jobs.SaveJob(ctx, job); err != nil {
			log.Printf("Failed to persist job %s before retry: %v", job.ID, err)
		}
		log.Printf("Tagging job %s: items not yet visible, will retry (attempt %d)", job.ID, job.RetryCount+1)
		return err
	}

	w.failJob(ctx, job, err.Error())
	return fmt.Errorf("tagging dispatch failed terminally: %v: %w", err, asynq.SkipRetry)
}

func (w *TaggingWorker) completeJob(ctx context.Context, job *model.TaggingJob, batchHandle string) {
	job.Status = model.JobStatusSucceeded
	job.BatchHandle = batchHandle
	now := time.Now()
	job.CompletedAt = &now
	if err := w.jobs.SaveJob(ctx, job); err != nil {
		log.Printf("Failed to mark job %s succeeded: %v", job.ID, err)
	}
}

func (w *TaggingWorker) failJob(ctx context.Context, job *model.TaggingJob, errMsg string) {
	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now
	if err := w.jobs.SaveJob(ctx, job); err != nil {
		log.Printf("Failed to mark job %s failed: %v", job.ID, err)
	}
}
