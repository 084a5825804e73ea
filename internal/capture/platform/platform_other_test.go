//go:build !linux

package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

func TestUnsupportedBackend(t *testing.T) {
	b, closeFn, err := New(Options{}, selection.NewStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeFn()

	ctx := context.Background()
	if _, err := b.ListMonitors(ctx); !errors.Is(err, capture.ErrNotImplemented) {
		t.Errorf("ListMonitors: %v", err)
	}
	if _, _, err := b.StartRegionCapture(ctx, capture.CaptureRegion{}); !errors.Is(err, capture.ErrNotImplemented) {
		t.Errorf("StartRegionCapture: %v", err)
	}
}
