package pipewire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/compositor"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/marker"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// BackendConfig tunes the Linux backend.
type BackendConfig struct {
	QueueDepth  int
	PollTimeout time.Duration
	Limits      geometry.Limits
}

// Backend is the Linux capture.Backend: compositor enumeration, portal
// negotiation through the picker, and a PipeWire stream consumer.
type Backend struct {
	enum      compositor.Backend
	store     *selection.Store
	portal    Negotiator
	newSource SourceFactory
	cfg       BackendConfig
}

var _ capture.Backend = (*Backend)(nil)

// NewBackend wires the backend. enum may be nil when no supported
// compositor is running; enumeration then fails and region captures skip
// the up-front bounds check.
func NewBackend(enum compositor.Backend, store *selection.Store, portal Negotiator, newSource SourceFactory, cfg BackendConfig) *Backend {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = capture.DefaultQueueDepth
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Limits == (geometry.Limits{}) {
		cfg.Limits = geometry.DefaultLimits
	}
	return &Backend{
		enum:      enum,
		store:     store,
		portal:    portal,
		newSource: newSource,
		cfg:       cfg,
	}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "pipewire"
}

// ListWindows lists windows through the compositor.
func (b *Backend) ListWindows(ctx context.Context) ([]capture.WindowInfo, error) {
	if b.enum == nil {
		return nil, capture.ErrCompositorUnavailable
	}
	return b.enum.ListWindows(ctx)
}

// ListMonitors lists monitors through the compositor.
func (b *Backend) ListMonitors(ctx context.Context) ([]capture.MonitorInfo, error) {
	if b.enum == nil {
		return nil, capture.ErrCompositorUnavailable
	}
	return b.enum.ListMonitors(ctx)
}

// StartWindowCapture captures one window. The window may follow resizes.
func (b *Backend) StartWindowCapture(ctx context.Context, id capture.WindowID) (*capture.FrameStream, *capture.StopHandle, error) {
	if id == "" {
		return nil, nil, capture.NewError(capture.KindInvalidRegion, "empty window id", nil)
	}
	return b.start(ctx, selection.Window(id), SourceTypeWindow, nil, true)
}

// StartMonitorCapture captures a whole monitor.
func (b *Backend) StartMonitorCapture(ctx context.Context, id capture.MonitorID) (*capture.FrameStream, *capture.StopHandle, error) {
	if id == "" {
		return nil, nil, capture.NewError(capture.KindInvalidRegion, "empty monitor id", nil)
	}
	if b.enum != nil {
		if _, err := b.enum.Monitor(ctx, id); err != nil && !compositor.IsUnavailable(err) {
			return nil, nil, capture.NewError(capture.KindInvalidRegion, fmt.Sprintf("monitor %q", id), err)
		}
	}
	return b.start(ctx, selection.Monitor(id), SourceTypeMonitor, nil, false)
}

// StartRegionCapture validates the region against a fresh snapshot of its
// monitor, then captures the monitor and crops every frame.
func (b *Backend) StartRegionCapture(ctx context.Context, region capture.CaptureRegion) (*capture.FrameStream, *capture.StopHandle, error) {
	res, err := b.CheckRegion(ctx, region)
	if err != nil {
		return nil, nil, err
	}
	r := res.Region
	return b.start(ctx, selection.Region(r), SourceTypeMonitor, &r, false)
}

// CheckRegion clips a physical region to a fresh snapshot of its monitor
// without opening a stream. Offsets outside the monitor are clipped; only a
// region with no area or no overlap fails. The minimum size belongs to
// selection time and is not checked here. Without a compositor the region
// is only clipped at the origin.
func (b *Backend) CheckRegion(ctx context.Context, region capture.CaptureRegion) (geometry.ClipResult, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return geometry.ClipResult{Requested: region}, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("invalid geometry %s", region), nil)
	}
	if b.enum == nil {
		return b.checkSizeOnly(region)
	}
	m, err := b.enum.Monitor(ctx, region.MonitorID)
	if err != nil {
		if compositor.IsUnavailable(err) {
			return b.checkSizeOnly(region)
		}
		return geometry.ClipResult{Requested: region}, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("monitor %q", region.MonitorID), err)
	}
	return geometry.Fit(region, m, b.cfg.Limits)
}

func (b *Backend) checkSizeOnly(region capture.CaptureRegion) (geometry.ClipResult, error) {
	unbounded := capture.MonitorInfo{ID: region.MonitorID, Width: region.X + region.Width, Height: region.Y + region.Height}
	return geometry.Fit(region, unbounded, b.cfg.Limits)
}

// start publishes the selection for the picker, negotiates the portal
// session and starts consuming the granted stream.
func (b *Backend) start(ctx context.Context, sel selection.Selection, types uint32, region *capture.CaptureRegion, followResize bool) (*capture.FrameStream, *capture.StopHandle, error) {
	log := logger.WithComponent("pipewire")

	if err := b.store.Set(sel); err != nil {
		return nil, nil, capture.NewError(capture.KindInvalidRegion, "selection", err)
	}

	hs, err := b.portal.Negotiate(ctx, types)
	if err != nil {
		var ce *capture.CaptureError
		if !errors.As(err, &ce) {
			err = capture.NewError(capture.KindPortalDenied, "", err)
		}
		return nil, nil, err
	}

	info := hs.Stream()
	if region != nil {
		checkMarker(info, *region)
	}

	src, err := b.newSource(hs.Remote(), info)
	if err != nil {
		hs.Close()
		return nil, nil, capture.NewError(capture.KindStreamDisconnected, "open stream", err)
	}

	stream := capture.NewFrameStream(b.cfg.QueueDepth)
	consumer, err := StartConsumer(ConsumerConfig{
		Source:       src,
		Stream:       stream,
		Region:       region,
		FollowResize: followResize,
		PollTimeout:  b.cfg.PollTimeout,
		Release:      hs.Close,
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("type", string(sel.Type)).
		Str("id", sel.SourceID).
		Uint32("node_id", info.NodeID).
		Msg("Capture started")

	return stream, capture.NewStopHandle(consumer.Stop), nil
}

// checkMarker compares the region the picker encoded, when the portal
// echoes it back, with the region we kept. The kept region always wins.
func checkMarker(info StreamInfo, want capture.CaptureRegion) {
	if !marker.IsRegionMarker(info.ID) {
		return
	}
	log := logger.WithComponent("pipewire")
	got, err := marker.Parse(info.ID)
	if err != nil {
		log.Debug().Err(err).Msg("Unreadable region marker on stream")
		return
	}
	if got != want {
		log.Warn().Str("marker", got.String()).Str("region", want.String()).Msg("Stream marker does not match the selected region")
	}
}
