//go:build !linux

package platform

import (
	"context"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// New returns a backend that implements nothing on this OS.
func New(opts Options, store *selection.Store) (capture.Backend, func() error, error) {
	return unsupported{}, func() error { return nil }, nil
}

type unsupported struct{}

func (unsupported) Name() string { return "unsupported" }

func (unsupported) ListWindows(ctx context.Context) ([]capture.WindowInfo, error) {
	return nil, capture.ErrNotImplemented
}

func (unsupported) ListMonitors(ctx context.Context) ([]capture.MonitorInfo, error) {
	return nil, capture.ErrNotImplemented
}

func (unsupported) StartWindowCapture(ctx context.Context, id capture.WindowID) (*capture.FrameStream, *capture.StopHandle, error) {
	return nil, nil, capture.ErrNotImplemented
}

func (unsupported) StartMonitorCapture(ctx context.Context, id capture.MonitorID) (*capture.FrameStream, *capture.StopHandle, error) {
	return nil, nil, capture.ErrNotImplemented
}

func (unsupported) StartRegionCapture(ctx context.Context, region capture.CaptureRegion) (*capture.FrameStream, *capture.StopHandle, error) {
	return nil, nil, capture.ErrNotImplemented
}
