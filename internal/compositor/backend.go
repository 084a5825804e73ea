package compositor

import (
	"context"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// Backend defines the interface for compositor enumeration backends.
// Only Hyprland is implemented; another compositor plugs in here without
// touching the capture code.
type Backend interface {
	capture.Enumerator

	// Monitor returns a fresh snapshot of one monitor.
	Monitor(ctx context.Context, id capture.MonitorID) (capture.MonitorInfo, error)

	// Name returns the backend name (e.g. "hyprland")
	Name() string
}
