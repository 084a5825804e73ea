package pipewire

import (
	"errors"
	"os"
	"time"
)

// ErrEndOfStream is returned by Source.Pull once the compositor has ended
// the stream.
var ErrEndOfStream = errors.New("pipewire: end of stream")

// Sample is one raw video frame. Data is only valid inside the callback it
// is passed to.
type Sample struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// Source produces raw samples from one PipeWire node. All methods are
// called from the consumer's worker goroutine.
type Source interface {
	// Start connects to the node.
	Start() error
	// Pull waits up to timeout for the next sample and hands it to fn. It
	// reports false when no sample arrived in time. An error from fn is
	// returned unchanged; ErrEndOfStream and native errors are terminal.
	Pull(timeout time.Duration, fn func(Sample) error) (bool, error)
	// Close releases the native subscription.
	Close() error
}

// SourceFactory opens a source for a negotiated stream. remote is the
// PipeWire connection the portal handed out; it may be nil, in which case
// the default PipeWire socket is used.
type SourceFactory func(remote *os.File, stream StreamInfo) (Source, error)
