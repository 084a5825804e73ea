// Package platform links exactly one capture.Backend per target OS.
package platform

import (
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire"
)

// Stream backends.
const (
	StreamGStreamer  = "gst"
	StreamSubprocess = "subprocess"
)

// Options configures the platform backend.
type Options struct {
	Portal pipewire.PortalOptions
	// StreamBackend is StreamGStreamer or StreamSubprocess.
	StreamBackend string
	QueueDepth    int
	PollTimeout   time.Duration
	Limits        geometry.Limits
}
