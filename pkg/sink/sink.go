// Package sink delivers completed frames to the conversion/display
// consumer over a bounded channel.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/laurigates/CleanScope/pkg/assemble"
)

// DefaultCapacity buffers about a quarter second of 30fps video, enough to
// absorb a consumer hiccup without holding stale frames.
const DefaultCapacity = 8

// Sink is a non-blocking frame handoff. Send never waits: under
// backpressure the newest frame is dropped, since stalling the USB event
// thread would lose isochronous packets that cannot be retried.
type Sink struct {
	ch        chan *assemble.Frame
	delivered atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{ch: make(chan *assemble.Frame, capacity)}
}

// Frames is the consumer side. It is closed by Close after the producer
// has stopped.
func (s *Sink) Frames() <-chan *assemble.Frame {
	return s.ch
}

// TrySend enqueues a frame if there is room, and reports whether the frame
// was accepted. A full channel or a closed sink drops the frame.
func (s *Sink) TrySend(f *assemble.Frame) bool {
	if s.closed.Load() {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.ch <- f:
		s.delivered.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Delivered counts frames accepted into the channel.
func (s *Sink) Delivered() uint64 {
	return s.delivered.Load()
}

// Dropped counts frames discarded because the consumer fell behind.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the frame channel. The producer must have stopped sending
// first; the engine joins its event loop before closing the sink.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
}
