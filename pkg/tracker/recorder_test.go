package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokentap/tokentap/pkg/models"
)

// blockingTracker stalls Record until released, to force queue overflow.
type blockingTracker struct {
	mu      sync.Mutex
	stored  []*models.UsageRecord
	release chan struct{}
}

func (b *blockingTracker) Record(_ context.Context, rec *models.UsageRecord) error {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stored = append(b.stored, rec)
	return nil
}

func (b *blockingTracker) Summary(context.Context) (*models.SummaryStats, error) { return nil, nil }
func (b *blockingTracker) ByModel(context.Context) ([]models.ModelStats, error)  { return nil, nil }
func (b *blockingTracker) Recent(context.Context, int) ([]models.RecentRequest, error) {
	return nil, nil
}
func (b *blockingTracker) Close() error { return nil }

func (b *blockingTracker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stored)
}

func TestRecorderDrainsOnClose(t *testing.T) {
	bt := &blockingTracker{}
	r := NewRecorder(bt, 16, nil)

	for i := 0; i < 10; i++ {
		r.Enqueue(models.NewUsageRecord("/v1/chat/completions", "gpt-4", time.Now().UTC(), ""))
	}
	r.Close()

	if got := bt.count(); got != 10 {
		t.Errorf("expected 10 records written, got %d", got)
	}
	if r.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", r.Dropped())
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	bt := &blockingTracker{release: make(chan struct{})}
	r := NewRecorder(bt, 2, nil)

	// The worker blocks on the first record; two more fill the queue,
	// anything beyond that must be dropped without blocking here.
	for i := 0; i < 6; i++ {
		r.Enqueue(models.NewUsageRecord("/v1/chat/completions", "gpt-4", time.Now().UTC(), ""))
	}

	if r.Dropped() == 0 {
		t.Error("expected dropped records when queue is full")
	}

	close(bt.release)
	r.Close()

	if got := r.Dropped(); got+uint64(bt.count()) != 6 {
		t.Errorf("expected stored+dropped == 6, got %d stored, %d dropped", bt.count(), got)
	}
}

func TestRecorderCloseIdempotent(t *testing.T) {
	r := NewRecorder(&blockingTracker{}, 4, nil)
	r.Close()
	r.Close()
}

func TestRecorderEnqueueAfterCloseDrops(t *testing.T) {
	bt := &blockingTracker{}
	r := NewRecorder(bt, 4, nil)
	r.Close()

	// A handler still finishing a long stream during shutdown may enqueue
	// after intake has closed; that must drop the record, not panic.
	r.Enqueue(models.NewUsageRecord("/v1/chat/completions", "gpt-4", time.Now().UTC(), ""))

	if got := r.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped record, got %d", got)
	}
	if got := bt.count(); got != 0 {
		t.Errorf("expected no records written, got %d", got)
	}
}

func TestRecorderOnDropHook(t *testing.T) {
	bt := &blockingTracker{release: make(chan struct{})}
	var hookCalls atomic.Uint64
	r := NewRecorder(bt, 1, func() { hookCalls.Add(1) })

	for i := 0; i < 4; i++ {
		r.Enqueue(models.NewUsageRecord("/v1/chat/completions", "gpt-4", time.Now().UTC(), ""))
	}

	close(bt.release)
	r.Close()

	if hookCalls.Load() != r.Dropped() {
		t.Errorf("expected hook calls to match drops, got %d calls, %d dropped", hookCalls.Load(), r.Dropped())
	}
	if r.Dropped() == 0 {
		t.Error("expected drops with a full queue")
	}
}
