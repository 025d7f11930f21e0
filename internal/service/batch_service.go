package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/framelight/api/internal/dedupe"
	"github.com/framelight/api/internal/model"
	"github.com/framelight/api/internal/upload"
)

// ErrBatchNotFound is returned for operations on unknown batches.
var ErrBatchNotFound = errors.New("batch not found")

// Dispatcher submits a completed batch's successful uploads for classification.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID, workspaceID string, assets []model.AssetRef) error
}

// ProgressTracker observes classification completion for dispatched batches.
type ProgressTracker interface {
	StartTracking(batchID, workspaceID string, assetIDs []string)
	Snapshot(batchID string) (model.ProgressSnapshot, bool)
	Dismiss(batchID string)
}

// BatchNotifier pushes upload task list updates to batch subscribers.
type BatchNotifier interface {
	BroadcastTasks(batchID string, tasks []model.UploadTaskView)
}

// BatchService owns the live upload batches of this instance. Each batch's
// state is private to its own queue; the service only routes operations to it
// and wires batch completion into the tagging dispatch and progress tracking.
type BatchService struct {
	uploader      upload.Uploader
	dispatcher    Dispatcher
	tracker       ProgressTracker
	hub           BatchNotifier
	detector      dedupe.Detector
	maxConcurrent int

	mu      sync.Mutex
	batches map[string]*upload.Queue
}

func NewBatchService(uploader upload.Uploader, dispatcher Dispatcher, tracker ProgressTracker, hub BatchNotifier, detector dedupe.Detector, maxConcurrent int) *BatchService {
	return &BatchService{
		uploader:      uploader,
		dispatcher:    dispatcher,
		tracker:       tracker,
		hub:           hub,
		detector:      detector,
		maxConcurrent: maxConcurrent,
		batches:       make(map[string]*upload.Queue),
	}
}

// CreateBatch screens the dropped files for duplicates, creates a batch for
// the remainder and starts every upload immediately.
func (s *BatchService) CreateBatch(ctx context.Context, workspaceID string, files []upload.File) (*model.CreateBatchResponse, error) {
	if len(files) == 0 {
		return nil, errors.New("no files provided")
	}

	var skipped []string
	screened := files
	if s.detector != nil {
		dupIdx := s.detector.FindDuplicates(files)
		if len(dupIdx) > 0 {
			dupSet := make(map[int]struct{}, len(dupIdx))
			for _, i := range dupIdx {
				dupSet[i] = struct{}{}
				skipped = append(skipped, files[i].Name)
			}
			screened = make([]upload.File, 0, len(files)-len(dupIdx))
			for i, f := range files {
				if _, dup := dupSet[i]; !dup {
					screened = append(screened, f)
				}
			}
		}
	}
	if len(screened) == 0 {
		return nil, fmt.Errorf("all %d files are duplicates", len(files))
	}

	batchID := uuid.New().String()
	queue := upload.NewQueue(batchID, workspaceID, s.uploader, s.maxConcurrent,
		func(successful []model.AssetRef) {
			s.handleBatchComplete(batchID, workspaceID, successful)
		},
		func(view model.BatchView) {
			if s.hub != nil {
				s.hub.BroadcastTasks(view.BatchID, view.Tasks)
			}
		},
	)

	s.mu.Lock()
	s.batches[batchID] = queue
	s.mu.Unlock()

	if err := queue.Submit(screened); err != nil {
		s.mu.Lock()
		delete(s.batches, batchID)
		s.mu.Unlock()
		return nil, err
	}

	view := queue.View()
	return &model.CreateBatchResponse{
		BatchID:           batchID,
		Tasks:             view.Tasks,
		DuplicatesSkipped: skipped,
	}, nil
}

// handleBatchComplete runs once per completion arming: it issues the single
// tagging dispatch and, when the batch is large enough, starts progress
// tracking over the dispatched asset IDs. Dispatch failure is logged and
// swallowed; the uploads already succeeded.
func (s *BatchService) handleBatchComplete(batchID, workspaceID string, successful []model.AssetRef) {
	ctx := context.Background()

	if err := s.dispatcher.Dispatch(ctx, batchID, workspaceID, successful); err != nil {
		log.Printf("Tagging dispatch failed for batch %s (uploads unaffected): %v", batchID, err)
	}

	if len(successful) == 0 || s.tracker == nil {
		return
	}
	ids := make([]string, 0, len(successful))
	for _, ref := range successful {
		ids = append(ids, ref.AssetID)
	}
	s.tracker.StartTracking(batchID, workspaceID, ids)
}

// GetBatch returns the renderable state of a batch.
func (s *BatchService) GetBatch(batchID string) (model.BatchView, error) {
	queue, err := s.queue(batchID)
	if err != nil {
		return model.BatchView{}, err
	}
	return queue.View(), nil
}

// RetryTask retries a single failed upload task.
func (s *BatchService) RetryTask(batchID, taskID string) (model.BatchView, error) {
	queue, err := s.queue(batchID)
	if err != nil {
		return model.BatchView{}, err
	}
	if _, err := queue.Retry(taskID); err != nil {
		return model.BatchView{}, err
	}
	return queue.View(), nil
}

// RetryFailed retries every failed upload task of a batch and reports how
// many were restarted.
func (s *BatchService) RetryFailed(batchID string) (int, error) {
	queue, err := s.queue(batchID)
	if err != nil {
		return 0, err
	}
	retried, err := queue.RetryAllFailed()
	return len(retried), err
}

// CloseBatch tears down a batch. Refused while uploads are in flight; once
// all tasks are terminal it clears batch state including any progress
// tracking for this batch. Tracking for other batches is untouched.
func (s *BatchService) CloseBatch(batchID string) error {
	queue, err := s.queue(batchID)
	if err != nil {
		return err
	}
	if err := queue.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.batches, batchID)
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Dismiss(batchID)
	}
	return nil
}

// Progress returns the tagging progress snapshot for a batch, if tracked.
func (s *BatchService) Progress(batchID string) (model.ProgressSnapshot, bool) {
	if s.tracker == nil {
		return model.ProgressSnapshot{}, false
	}
	return s.tracker.Snapshot(batchID)
}

// DismissProgress dismisses the progress view for a batch on user request.
func (s *BatchService) DismissProgress(batchID string) {
	if s.tracker != nil {
		s.tracker.Dismiss(batchID)
	}
}

func (s *BatchService) queue(batchID string) (*upload.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return queue, nil
}
