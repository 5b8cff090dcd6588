package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tokentap/tokentap/pkg/models"
)

// Recorder decouples usage persistence from the response path. Records
// are handed to Enqueue and written by a background worker; a full or
// closed queue drops the record rather than blocking the caller.
type Recorder struct {
	tracker Tracker
	records chan *models.UsageRecord
	dropped atomic.Uint64
	onDrop  func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a Recorder draining into the given tracker. onDrop
// is invoked for every dropped record and may be nil.
func NewRecorder(t Tracker, queueSize int, onDrop func()) *Recorder {
	r := &Recorder{
		tracker: t,
		records: make(chan *models.UsageRecord, queueSize),
		onDrop:  onDrop,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.records {
		if err := r.tracker.Record(context.Background(), rec); err != nil {
			slog.Error("usage record write failed", "endpoint", rec.Endpoint, "error", err)
		}
	}
}

// Enqueue hands a record to the background worker. It never blocks and
// never panics: a full queue or a closed recorder drops the record and
// counts the drop. In-flight handlers may still call Enqueue while the
// server is shutting down.
func (r *Recorder) Enqueue(rec *models.UsageRecord) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.drop(rec)
		return
	}
	select {
	case r.records <- rec:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.drop(rec)
	}
}

func (r *Recorder) drop(rec *models.UsageRecord) {
	n := r.dropped.Add(1)
	slog.Warn("usage record dropped", "endpoint", rec.Endpoint, "dropped_total", n)
	if r.onDrop != nil {
		r.onDrop()
	}
}

// Dropped reports how many records were lost to queue overflow or
// post-shutdown arrival.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops intake and blocks until queued records are written. Safe
// to call more than once; Enqueue after Close degrades to a drop.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.records)
	}
	r.mu.Unlock()
	<-r.done
}
