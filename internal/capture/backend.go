package capture

import "context"

// WindowEnumerator lists capturable windows.
type WindowEnumerator interface {
	ListWindows(ctx context.Context) ([]WindowInfo, error)
}

// MonitorEnumerator lists connected monitors.
type MonitorEnumerator interface {
	ListMonitors(ctx context.Context) ([]MonitorInfo, error)
}

// Enumerator is the compositor-facing half of a backend.
type Enumerator interface {
	WindowEnumerator
	MonitorEnumerator
}

// Backend is the platform-neutral capture contract. Exactly one
// implementation is linked per target OS (see package platform).
//
// Every Start* call either fails synchronously with a *CaptureError or
// returns a live stream and the handle that tears it down. A stream ends
// without error after Stop and with ErrStreamDisconnected when the
// compositor ends it.
type Backend interface {
	Enumerator

	StartWindowCapture(ctx context.Context, id WindowID) (*FrameStream, *StopHandle, error)
	StartMonitorCapture(ctx context.Context, id MonitorID) (*FrameStream, *StopHandle, error)
	StartRegionCapture(ctx context.Context, region CaptureRegion) (*FrameStream, *StopHandle, error)

	// Name returns a short identifier for logs, e.g. "pipewire".
	Name() string
}
