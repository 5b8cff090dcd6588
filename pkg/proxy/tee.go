package proxy

import "sync"

// streamTee hands copies of relayed SSE frames to the usage extractor
// without ever blocking the client relay. The relay loop is the single
// producer; the extractor goroutine is the single consumer. When the
// extractor falls more than the buffer behind, extraction is abandoned:
// the frame channel is closed early, the extractor finishes with what it
// has, and the relay continues untouched.
type streamTee struct {
	frames     chan string
	closeOnce  sync.Once
	overflowed bool
}

func newStreamTee(bufferFrames int) *streamTee {
	return &streamTee{
		frames: make(chan string, bufferFrames),
	}
}

// Publish offers one frame to the extractor side. It never blocks: a
// full buffer abandons extraction instead of back-pressuring the relay.
// Publish must only be called from the relay goroutine.
func (t *streamTee) Publish(frame string) {
	if t.overflowed {
		return
	}
	select {
	case t.frames <- frame:
	default:
		t.overflowed = true
		t.Close()
	}
}

// Overflowed reports whether extraction was abandoned because the
// extractor could not keep up.
func (t *streamTee) Overflowed() bool {
	return t.overflowed
}

// Close signals end of stream to the extractor. Safe to call more than
// once; the signal is delivered exactly once.
func (t *streamTee) Close() {
	t.closeOnce.Do(func() { close(t.frames) })
}
