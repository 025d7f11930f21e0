package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/api/internal/model"
)

type fakeUploader struct {
	mu       sync.Mutex
	calls    int
	failFor  map[string]error
	failOnce map[string]error
	gates    map[string]chan struct{}
}

func (f *fakeUploader) UploadAsset(_ context.Context, _ string, file File, onProgress func(int)) (*model.UploadResult, error) {
	f.mu.Lock()
	f.calls++
	err := f.failFor[file.Name]
	if err == nil {
		if once, ok := f.failOnce[file.Name]; ok {
			err = once
			delete(f.failOnce, file.Name)
		}
	}
	gate := f.gates[file.Name]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if onProgress != nil {
		onProgress(40)
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

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type dispatchRecorder struct {
	mu    sync.Mutex
	calls [][]model.AssetRef
}

func (r *dispatchRecorder) record(refs []model.AssetRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, refs)
}

func (r *dispatchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *dispatchRecorder) call(i int) []model.AssetRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func testFiles(names ...string) []File {
	files := make([]File, 0, len(names))
	for _, name := range names {
		name := name
		files = append(files, File{
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

func assetIDs(refs []model.AssetRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.AssetID)
	}
	return ids
}

func TestQueueDispatchesOnceAllTasksResolve(t *testing.T) {
	uploader := &fakeUploader{}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 3, rec.record, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg", "b.jpg", "c.jpg")))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-a.jpg", "asset-b.jpg", "asset-c.jpg"}, assetIDs(rec.call(0)))
	assert.Equal(t, 3, uploader.callCount())
}

func TestQueueDispatchOrderIndependentOfResolutionOrder(t *testing.T) {
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	gates := make(map[string]chan struct{}, len(names))
	for _, n := range names {
		gates[n] = make(chan struct{})
	}
	uploader := &fakeUploader{gates: gates}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, len(names), rec.record, nil)

	require.NoError(t, q.Submit(testFiles(names...)))

	// Release uploads in reverse drop order.
	for i := len(names) - 1; i >= 0; i-- {
		close(gates[names[i]])
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-a.jpg", "asset-b.jpg", "asset-c.jpg", "asset-d.jpg"}, assetIDs(rec.call(0)))
}

func TestQueueDispatchFiresAtMostOncePerArming(t *testing.T) {
	names := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		names = append(names, string(rune('a'+i))+".jpg")
	}
	uploader := &fakeUploader{}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 10, rec.record, nil)
	q.rescanEvery = time.Millisecond

	require.NoError(t, q.Submit(testFiles(names...)))

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// Give concurrent resolutions and re-scan ticks time to double-fire.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Len(t, rec.call(0), 20)
}

func TestQueueDispatchesOnlySuccessfulTasks(t *testing.T) {
	uploader := &fakeUploader{failFor: map[string]error{
		"bad.jpg": errors.New("connection reset"),
	}}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 3, rec.record, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg", "bad.jpg", "c.jpg")))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-a.jpg", "asset-c.jpg"}, assetIDs(rec.call(0)))

	view := q.View()
	require.Len(t, view.Tasks, 3)
	assert.Equal(t, model.UploadStatusError, view.Tasks[1].Status)
	require.NotNil(t, view.Tasks[1].Error)
}

func TestQueueAllFailedDispatchesNothing(t *testing.T) {
	uploader := &fakeUploader{failFor: map[string]error{
		"a.jpg": errors.New("boom"),
		"b.jpg": errors.New("boom"),
	}}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 2, rec.record, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg", "b.jpg")))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.call(0))
}

func TestQueueRetryReArmsCompletion(t *testing.T) {
	uploader := &fakeUploader{failOnce: map[string]error{
		"flaky.jpg": errors.New("connection reset"),
	}}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 3, rec.record, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg", "flaky.jpg", "c.jpg")))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-a.jpg", "asset-c.jpg"}, assetIDs(rec.call(0)))

	var failedID string
	for _, task := range q.View().Tasks {
		if task.Status == model.UploadStatusError {
			failedID = task.ID
		}
	}
	require.NotEmpty(t, failedID)

	retry, err := q.Retry(failedID)
	require.NoError(t, err)
	assert.Equal(t, failedID, retry.RetryOf)

	// The second arming dispatches only the retried success; siblings were
	// already dispatched and keep their state.
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-flaky.jpg"}, assetIDs(rec.call(1)))

	view := q.View()
	require.Len(t, view.Tasks, 4)
	assert.Equal(t, model.UploadStatusSuccess, view.Tasks[0].Status)
	assert.Equal(t, model.UploadStatusError, view.Tasks[1].Status)
	assert.Equal(t, model.UploadStatusSuccess, view.Tasks[2].Status)
	assert.Equal(t, model.UploadStatusSuccess, view.Tasks[3].Status)
}

func TestQueueRetryRequiresFailedTask(t *testing.T) {
	uploader := &fakeUploader{}
	q := NewQueue("batch-1", "ws-1", uploader, 1, nil, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg")))
	require.Eventually(t, q.CanClose, 2*time.Second, 10*time.Millisecond)

	succeeded := q.View().Tasks[0].ID
	_, err := q.Retry(succeeded)
	assert.ErrorIs(t, err, ErrTaskNotRetryable)

	_, err = q.Retry("no-such-task")
	assert.Error(t, err)
}

func TestQueueRetryAllFailed(t *testing.T) {
	uploader := &fakeUploader{failOnce: map[string]error{
		"x.jpg": errors.New("boom"),
		"y.jpg": errors.New("boom"),
	}}
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", uploader, 3, rec.record, nil)

	require.NoError(t, q.Submit(testFiles("x.jpg", "y.jpg", "z.jpg")))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	retried, err := q.RetryAllFailed()
	require.NoError(t, err)
	assert.Len(t, retried, 2)

	require.Eventually(t, q.CanClose, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueueRescanDetectsCompletionWithoutCounter(t *testing.T) {
	rec := &dispatchRecorder{}
	q := NewQueue("batch-1", "ws-1", nil, 1, rec.record, nil)
	q.rescanEvery = 5 * time.Millisecond

	// Resolve a task without ever feeding the per-task counter path, as if
	// that signal was lost. The re-scan must still declare completion.
	done := newTask(testFiles("a.jpg")[0])
	done.resolveSuccess(&model.UploadResult{AssetID: "asset-a.jpg"})

	q.mu.Lock()
	q.tasks = append(q.tasks, done)
	q.total = 1
	q.rescanDeadline = time.Now().Add(time.Second)
	q.rescanRunning = true
	q.mu.Unlock()
	go q.rescanLoop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"asset-a.jpg"}, assetIDs(rec.call(0)))
	assert.Equal(t, 0, q.View().CompletedCount)
}

func TestQueueRescanStopsAfterSafetyWindow(t *testing.T) {
	uploader := &fakeUploader{}
	q := NewQueue("batch-1", "ws-1", uploader, 1, nil, nil)
	q.rescanEvery = 5 * time.Millisecond
	q.safetyWindow = 20 * time.Millisecond

	require.NoError(t, q.Submit(testFiles("a.jpg")))

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return !q.rescanRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueCloseRefusedWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	uploader := &fakeUploader{gates: map[string]chan struct{}{"a.jpg": gate}}
	q := NewQueue("batch-1", "ws-1", uploader, 1, nil, nil)

	require.NoError(t, q.Submit(testFiles("a.jpg")))

	assert.False(t, q.CanClose())
	assert.ErrorIs(t, q.Close(), ErrUploadsInFlight)

	close(gate)
	require.Eventually(t, q.CanClose, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, q.Close())

	// A second close is a no-op.
	require.NoError(t, q.Close())
	assert.Error(t, q.Submit(testFiles("b.jpg")))
}

func TestQueueProgressIsMonotone(t *testing.T) {
	task := newTask(testFiles("a.jpg")[0])
	task.setUploading()

	task.setProgress(40)
	task.setProgress(30)
	assert.Equal(t, 40, task.View().Progress)

	task.setProgress(250)
	assert.Equal(t, 100, task.View().Progress)

	task.resolveSuccess(&model.UploadResult{AssetID: "x"})
	task.setProgress(10)
	assert.Equal(t, 100, task.View().Progress)
	assert.Equal(t, model.UploadStatusSuccess, task.Status())
}
