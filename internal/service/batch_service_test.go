package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/api/internal/dedupe"
	"github.com/framelight/api/internal/model"
	"github.com/framelight/api/internal/upload"
)

type scriptedUploader struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]error
}

func (u *scriptedUploader) UploadAsset(_ context.Context, _ string, file upload.File, onProgress func(int)) (*model.UploadResult, error) {
	u.mu.Lock()
	u.calls++
	err := u.failFor[file.Name]
	delete(u.failFor, file.Name)
	u.mu.Unlock()

	if onProgress != nil {
		onProgress(100)
	}
	if err != nil {
		return nil, err
	}
	return &model.UploadResult{
		AssetID:    "asset-" + file.Name,
		StorageURL: "https://cdn.test/" + file.Name,
	}, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	batches []string
	assets  [][]model.AssetRef
	fail    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, batchID, _ string, assets []model.AssetRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, batchID)
	d.assets = append(d.assets, assets)
	return d.fail
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func (d *fakeDispatcher) call(i int) []model.AssetRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assets[i]
}

type fakeTracker struct {
	mu        sync.Mutex
	started   map[string][]string
	dismissed []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{started: make(map[string][]string)}
}

func (tr *fakeTracker) StartTracking(batchID, _ string, assetIDs []string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.started[batchID] = assetIDs
}

func (tr *fakeTracker) Snapshot(batchID string) (model.ProgressSnapshot, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	ids, ok := tr.started[batchID]
	if !ok {
		return model.ProgressSnapshot{}, false
	}
	return model.ProgressSnapshot{BatchID: batchID, Total: len(ids)}, true
}

func (tr *fakeTracker) Dismiss(batchID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.dismissed = append(tr.dismissed, batchID)
}

type fakeHub struct {
	mu    sync.Mutex
	calls int
}

func (h *fakeHub) BroadcastTasks(string, []model.UploadTaskView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func serviceFiles(names ...string) []upload.File {
	files := make([]upload.File, 0, len(names))
	for _, name := range names {
		name := name
		files = append(files, upload.File{
			Name:        name,
			Size:        int64(len(name)),
			ContentType: "image/jpeg",
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader(name)), nil
			},
		})
	}
	return files
}

func newTestService(uploader upload.Uploader, dispatcher Dispatcher, tracker ProgressTracker, hub BatchNotifier) *BatchService {
	return NewBatchService(uploader, dispatcher, tracker, hub, dedupe.NewContentHashDetector(), 6)
}

func TestCreateBatchRunsFullLifecycle(t *testing.T) {
	names := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		names = append(names, fmt.Sprintf("photo-%02d.jpg", i))
	}
	uploader := &scriptedUploader{failFor: map[string]error{
		"photo-13.jpg": errors.New("connection reset by peer"),
	}}
	dispatcher := &fakeDispatcher{}
	tracker := newFakeTracker()
	hub := &fakeHub{}
	svc := newTestService(uploader, dispatcher, tracker, hub)

	resp, err := svc.CreateBatch(context.Background(), "ws-1", serviceFiles(names...))
	require.NoError(t, err)
	assert.Len(t, resp.Tasks, 25)
	assert.Empty(t, resp.DuplicatesSkipped)

	// The batch completes, dispatches the 24 successes once, and starts
	// progress tracking over exactly those assets.
	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, dispatcher.call(0), 24)

	require.Eventually(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return len(tracker.started[resp.BatchID]) == 24
	}, 3*time.Second, 10*time.Millisecond)

	assert.Greater(t, hub.count(), 0)

	view, err := svc.GetBatch(resp.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 25, view.TotalCount)

	// Retrying the failed upload re-arms completion and yields a second
	// dispatch carrying only the recovered asset.
	retried, err := svc.RetryFailed(resp.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	require.Eventually(t, func() bool { return dispatcher.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	second := dispatcher.call(1)
	require.Len(t, second, 1)
	assert.Equal(t, "asset-photo-13.jpg", second[0].AssetID)

	// Close tears down batch state including progress tracking.
	require.Eventually(t, func() bool { return svc.CloseBatch(resp.BatchID) == nil }, 3*time.Second, 10*time.Millisecond)
	_, err = svc.GetBatch(resp.BatchID)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	tracker.mu.Lock()
	assert.Contains(t, tracker.dismissed, resp.BatchID)
	tracker.mu.Unlock()
}

func TestCreateBatchScreensDuplicates(t *testing.T) {
	uploader := &scriptedUploader{}
	dispatcher := &fakeDispatcher{}
	svc := newTestService(uploader, dispatcher, newFakeTracker(), nil)

	files := serviceFiles("a.jpg", "b.jpg")
	files = append(files, upload.File{
		Name:        "a-copy.jpg",
		Size:        5,
		ContentType: "image/jpeg",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("a.jpg")), nil
		},
	})

	resp, err := svc.CreateBatch(context.Background(), "ws-1", files)
	require.NoError(t, err)
	assert.Len(t, resp.Tasks, 2)
	assert.Equal(t, []string{"a-copy.jpg"}, resp.DuplicatesSkipped)
}

func TestCreateBatchAllDuplicatesFails(t *testing.T) {
	svc := newTestService(&scriptedUploader{}, &fakeDispatcher{}, newFakeTracker(), nil)

	same := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("identical")), nil
	}
	_, err := svc.CreateBatch(context.Background(), "ws-1", []upload.File{
		{Name: "a.jpg", ContentType: "image/jpeg", Open: same},
		{Name: "b.jpg", ContentType: "image/jpeg", Open: same},
	})
	require.Error(t, err)
}

func TestCreateBatchRejectsEmptyInput(t *testing.T) {
	svc := newTestService(&scriptedUploader{}, &fakeDispatcher{}, newFakeTracker(), nil)
	_, err := svc.CreateBatch(context.Background(), "ws-1", nil)
	require.Error(t, err)
}

func TestDispatchFailureDoesNotFailUploads(t *testing.T) {
	uploader := &scriptedUploader{}
	dispatcher := &fakeDispatcher{fail: errors.New("broker down")}
	tracker := newFakeTracker()
	svc := newTestService(uploader, dispatcher, tracker, nil)

	resp, err := svc.CreateBatch(context.Background(), "ws-1", serviceFiles("a.jpg", "b.jpg"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	// Uploads stay successful and tracking still starts.
	require.Eventually(t, func() bool {
		view, err := svc.GetBatch(resp.BatchID)
		if err != nil {
			return false
		}
		for _, task := range view.Tasks {
			if task.Status != model.UploadStatusSuccess {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		_, ok := tracker.started[resp.BatchID]
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOperationsOnUnknownBatch(t *testing.T) {
	svc := newTestService(&scriptedUploader{}, &fakeDispatcher{}, newFakeTracker(), nil)

	_, err := svc.GetBatch("nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = svc.RetryTask("nope", "task")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = svc.RetryFailed("nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	assert.ErrorIs(t, svc.CloseBatch("nope"), ErrBatchNotFound)

	_, ok := svc.Progress("nope")
	assert.False(t, ok)
}
