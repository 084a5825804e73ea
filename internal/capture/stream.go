package capture

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultQueueDepth is the FrameStream buffer size when none is configured.
const DefaultQueueDepth = 4

// FrameStream is a bounded, ordered sequence of frames from one producer.
// When the consumer falls behind, the oldest queued frame is discarded.
// The channel returned by Frames is closed exactly once; Err then reports
// nil for a deliberate stop or the terminal error otherwise.
type FrameStream struct {
	frames  chan *CapturedFrame
	mu      sync.Mutex
	closed  bool
	err     error
	dropped atomic.Uint64
}

// NewFrameStream creates a stream holding at most depth undelivered frames.
func NewFrameStream(depth int) *FrameStream {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	return &FrameStream{frames: make(chan *CapturedFrame, depth)}
}

// Frames returns the receive side of the stream.
func (s *FrameStream) Frames() <-chan *CapturedFrame {
	return s.frames
}

// Next blocks for the next frame. It returns io.EOF after a clean stop and
// the terminal error after an unexpected end.
func (s *FrameStream) Next(ctx context.Context) (*CapturedFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.frames:
		if ok {
			return f, nil
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

// Err returns the terminal error. Only meaningful once Frames is closed.
func (s *FrameStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many frames were discarded by backpressure.
func (s *FrameStream) Dropped() uint64 {
	return s.dropped.Load()
}

// Push enqueues a frame, evicting the oldest queued one if the buffer is
// full. It reports false if the frame was not delivered because the stream
// is already closed. Push must only be called from the producing goroutine.
func (s *FrameStream) Push(f *CapturedFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	for {
		select {
		case s.frames <- f:
			return true
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

// Close ends the stream. The first call wins; later calls are no-ops.
func (s *FrameStream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// Closed reports whether Close has been called.
func (s *FrameStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StopHandle tears a capture down. Stop blocks until the producer has exited,
// the native subscription is released and the stream is closed. It is safe
// to call more than once; only the first call does any work.
type StopHandle struct {
	once sync.Once
	fn   func() error
	err  error
}

// NewStopHandle wraps a teardown function.
func NewStopHandle(fn func() error) *StopHandle {
	return &StopHandle{fn: fn}
}

// Stop runs the teardown once and returns its result.
func (h *StopHandle) Stop() error {
	h.once.Do(func() {
		if h.fn != nil {
			h.err = h.fn()
		}
	})
	return h.err
}
