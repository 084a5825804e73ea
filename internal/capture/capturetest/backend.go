// Package capturetest provides an in-memory capture.Backend for tests.
package capturetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// Backend is a scriptable capture.Backend. Every Start call opens a Stream
// the test drives by hand.
type Backend struct {
	Monitors []capture.MonitorInfo
	Windows  []capture.WindowInfo
	// StartErr, when set, fails every Start call.
	StartErr   error
	QueueDepth int

	mu      sync.Mutex
	streams []*Stream
}

var _ capture.Backend = (*Backend)(nil)

// Stream is one fake capture.
type Stream struct {
	*capture.FrameStream
	Type   capture.SourceType
	Target string
	Region *capture.CaptureRegion

	seq     atomic.Uint64
	stopped atomic.Int32
}

// Name returns "fake".
func (b *Backend) Name() string { return "fake" }

// ListWindows returns Windows.
func (b *Backend) ListWindows(ctx context.Context) ([]capture.WindowInfo, error) {
	return append([]capture.WindowInfo(nil), b.Windows...), nil
}

// ListMonitors returns Monitors.
func (b *Backend) ListMonitors(ctx context.Context) ([]capture.MonitorInfo, error) {
	return append([]capture.MonitorInfo(nil), b.Monitors...), nil
}

func (b *Backend) StartWindowCapture(ctx context.Context, id capture.WindowID) (*capture.FrameStream, *capture.StopHandle, error) {
	return b.open(capture.SourceWindow, string(id), nil)
}

func (b *Backend) StartMonitorCapture(ctx context.Context, id capture.MonitorID) (*capture.FrameStream, *capture.StopHandle, error) {
	return b.open(capture.SourceMonitor, string(id), nil)
}

// StartRegionCapture rejects empty regions like a real backend.
func (b *Backend) StartRegionCapture(ctx context.Context, r capture.CaptureRegion) (*capture.FrameStream, *capture.StopHandle, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, nil, capture.NewError(capture.KindInvalidRegion, fmt.Sprintf("%dx%d", r.Width, r.Height), nil)
	}
	return b.open(capture.SourceRegion, string(r.MonitorID), &r)
}

func (b *Backend) open(kind capture.SourceType, target string, r *capture.CaptureRegion) (*capture.FrameStream, *capture.StopHandle, error) {
	if b.StartErr != nil {
		return nil, nil, b.StartErr
	}
	s := &Stream{
		FrameStream: capture.NewFrameStream(b.QueueDepth),
		Type:        kind,
		Target:      target,
		Region:      r,
	}
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	stop := capture.NewStopHandle(func() error {
		s.stopped.Add(1)
		s.Close(nil)
		return nil
	})
	return s.FrameStream, stop, nil
}

// Streams returns every stream opened so far.
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Stream(nil), b.streams...)
}

// Last returns the most recently opened stream, or nil.
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// Emit pushes a frame of the region's size, or w x h for other sources.
func (s *Stream) Emit(w, h int) bool {
	if s.Region != nil {
		w, h = s.Region.Width, s.Region.Height
	}
	f := capture.NewFrame(w, h)
	f.Sequence = s.seq.Add(1)
	f.Timestamp = time.Now()
	return s.Push(f)
}

// Disconnect ends the stream the way a compositor-side change would.
func (s *Stream) Disconnect(reason string) {
	s.Close(capture.NewError(capture.KindStreamDisconnected, reason, nil))
}

// StopCount returns how often the stop handle's teardown ran.
func (s *Stream) StopCount() int {
	return int(s.stopped.Load())
}
