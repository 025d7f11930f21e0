package progress

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/framelight/api/internal/model"
)

const (
	// VisibilityThreshold is the smallest batch that gets a progress view.
	// Smaller batches resolve fast enough that an indicator would only flicker.
	VisibilityThreshold = 6

	defaultPollInterval = 3 * time.Second
	defaultGracePeriod  = 5 * time.Second

	// assumedSecondsPerItem drives the estimated-time-remaining figure. It is
	// an estimate for display only and gates nothing.
	assumedSecondsPerItem = 2
)

// RecordReader provides batched authoritative reads of asset records.
type RecordReader interface {
	GetAssets(ctx context.Context, ids []string) ([]model.Asset, error)
}

// ChangeFeed provides push-style notification of record mutations scoped to a
// workspace. The feed is a latency optimization only: a failed subscription
// degrades refresh cadence to the poll interval, never correctness.
type ChangeFeed interface {
	Subscribe(ctx context.Context, workspaceID string, onChange func(assetID string)) (io.Closer, error)
}

// Publisher receives every recomputed snapshot and the dismissal signal.
type Publisher interface {
	BroadcastProgress(batchID string, snapshot model.ProgressSnapshot)
	BroadcastDismissed(batchID string)
}

// Tracker observes classification completion for dispatched batches. Each
// tracked batch runs a 3s poll loop (primary, authoritative) and a push
// subscription (trigger only); both funnel into one from-scratch
// recomputation, so the two channels cannot drift apart.
type Tracker struct {
	reader    RecordReader
	feed      ChangeFeed
	publisher Publisher

	visibilityThreshold int
	pollInterval        time.Duration
	gracePeriod         time.Duration
	secondsPerItem      int

	mu      sync.Mutex
	batches map[string]*batchTracker
}

func NewTracker(reader RecordReader, feed ChangeFeed, publisher Publisher) *Tracker {
	return &Tracker{
		reader:              reader,
		feed:                feed,
		publisher:           publisher,
		visibilityThreshold: VisibilityThreshold,
		pollInterval:        defaultPollInterval,
		gracePeriod:         defaultGracePeriod,
		secondsPerItem:      assumedSecondsPerItem,
		batches:             make(map[string]*batchTracker),
	}
}

type batchTracker struct {
	tracker     *Tracker
	batchID     string
	workspaceID string
	ids         []string
	idSet       map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	snapshot  model.ProgressSnapshot
	dismissed bool

	pollStop     chan struct{}
	stopPollOnce sync.Once
	completeOnce sync.Once
	dismissOnce  sync.Once
	dismissTimer *time.Timer
	sub          io.Closer
}

// StartTracking begins observing the given asset IDs until every one reaches a
// terminal classification status. Batches below the visibility threshold are
// ignored. Tracking state is keyed per batch, so a new batch never disturbs a
// previous batch still inside its grace period.
func (t *Tracker) StartTracking(batchID, workspaceID string, assetIDs []string) {
	if len(assetIDs) < t.visibilityThreshold {
		log.Printf("Batch %s below progress visibility threshold (%d < %d), not tracking", batchID, len(assetIDs), t.visibilityThreshold)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	bt := &batchTracker{
		tracker:     t,
		batchID:     batchID,
		workspaceID: workspaceID,
		ids:         append([]string(nil), assetIDs...),
		idSet:       make(map[string]struct{}, len(assetIDs)),
		ctx:         ctx,
		cancel:      cancel,
		pollStop:    make(chan struct{}),
		snapshot: model.ProgressSnapshot{
			BatchID: batchID,
			Total:   len(assetIDs),
		},
	}
	for _, id := range assetIDs {
		bt.idSet[id] = struct{}{}
	}

	t.mu.Lock()
	if prev, ok := t.batches[batchID]; ok {
		// Replacing a tracker for the same batch: tear the old one down so its
		// timers and subscription cannot leak.
		go prev.dismiss()
	}
	t.batches[batchID] = bt
	t.mu.Unlock()

	// Push channel. Event payloads are never trusted: an event only triggers
	// an authoritative re-read.
	if t.feed != nil {
		sub, err := t.feed.Subscribe(ctx, workspaceID, func(assetID string) {
			if _, tracked := bt.idSet[assetID]; tracked {
				bt.refresh()
			}
		})
		if err != nil {
			log.Printf("Progress push channel unavailable for batch %s, falling back to polling only: %v", batchID, err)
		} else {
			bt.mu.Lock()
			bt.sub = sub
			bt.mu.Unlock()
		}
	}

	bt.refresh()
	go bt.pollLoop(t.pollInterval)

	log.Printf("Tracking tagging progress for batch %s (%d assets)", batchID, len(assetIDs))
}

// Snapshot returns the current progress view for a batch, if tracked.
func (t *Tracker) Snapshot(batchID string) (model.ProgressSnapshot, bool) {
	t.mu.Lock()
	bt, ok := t.batches[batchID]
	t.mu.Unlock()
	if !ok {
		return model.ProgressSnapshot{}, false
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.snapshot, true
}

// Dismiss tears down tracking for a batch immediately, cancelling its poll
// loop, subscription and pending timers.
func (t *Tracker) Dismiss(batchID string) {
	t.mu.Lock()
	bt, ok := t.batches[batchID]
	t.mu.Unlock()
	if !ok {
		return
	}
	bt.dismiss()
}

func (bt *batchTracker) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-bt.pollStop:
			return
		case <-ticker.C:
			bt.refresh()
		}
	}
}

// refresh recomputes the snapshot from scratch out of the record store. Both
// observation channels land here, which keeps the view convergent no matter
// which channel fired or in what order.
func (bt *batchTracker) refresh() {
	bt.mu.Lock()
	if bt.dismissed {
		bt.mu.Unlock()
		return
	}
	bt.mu.Unlock()

	assets, err := bt.tracker.reader.GetAssets(bt.ctx, bt.ids)
	if err != nil {
		// Best-effort enrichment: a failed read just stalls the view until the
		// next tick succeeds.
		log.Printf("Progress poll failed for batch %s: %v", bt.batchID, err)
		return
	}

	var tagged, untagged int
	for _, asset := range assets {
		if !asset.TagStatus.IsTerminal() {
			continue
		}
		if len(asset.Tags) > 0 {
			tagged++
		} else {
			untagged++
		}
	}

	total := len(bt.ids)
	completed := tagged + untagged
	remaining := total - completed
	if remaining < 0 {
		remaining = 0
	}

	snapshot := model.ProgressSnapshot{
		BatchID:          bt.batchID,
		Total:            total,
		Completed:        completed,
		Tagged:           tagged,
		Untagged:         untagged,
		IsComplete:       completed >= total,
		EstimatedSeconds: remaining * bt.tracker.secondsPerItem,
	}

	bt.mu.Lock()
	if bt.dismissed {
		bt.mu.Unlock()
		return
	}
	bt.snapshot = snapshot
	bt.mu.Unlock()

	if bt.tracker.publisher != nil {
		bt.tracker.publisher.BroadcastProgress(bt.batchID, snapshot)
	}

	if snapshot.IsComplete {
		bt.markComplete()
	}
}

// markComplete fires at most once even when both channels observe completion
// in the same tick: it stops the poll loop and arms the dismissal timer.
func (bt *batchTracker) markComplete() {
	bt.completeOnce.Do(func() {
		bt.stopPoll()
		bt.mu.Lock()
		bt.dismissTimer = time.AfterFunc(bt.tracker.gracePeriod, bt.dismiss)
		bt.mu.Unlock()
		log.Printf("Batch %s tagging complete, dismissing in %s", bt.batchID, bt.tracker.gracePeriod)
	})
}

func (bt *batchTracker) stopPoll() {
	bt.stopPollOnce.Do(func() {
		close(bt.pollStop)
	})
}

// dismiss clears every observation resource: poll loop, subscription, timers
// and the tracked state itself. Reachable from the grace-period timer and from
// explicit user dismissal; runs once either way.
func (bt *batchTracker) dismiss() {
	bt.dismissOnce.Do(func() {
		bt.mu.Lock()
		bt.dismissed = true
		timer := bt.dismissTimer
		sub := bt.sub
		bt.mu.Unlock()

		bt.stopPoll()
		if timer != nil {
			timer.Stop()
		}
		if sub != nil {
			if err := sub.Close(); err != nil {
				log.Printf("Failed to close progress subscription for batch %s: %v", bt.batchID, err)
			}
		}
		bt.cancel()

		t := bt.tracker
		t.mu.Lock()
		if current, ok := t.batches[bt.batchID]; ok && current == bt {
			delete(t.batches, bt.batchID)
		}
		t.mu.Unlock()

		if t.publisher != nil {
			t.publisher.BroadcastDismissed(bt.batchID)
		}
		log.Printf("Progress tracking dismissed for batch %s", bt.batchID)
	})
}
