//go:build linux

package platform

import (
	"fmt"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire"
	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire/gstsource"
	"github.com/screen-recorder/screen-recorder/internal/compositor"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// New returns the PipeWire backend. The returned close function releases
// the portal's bus connection.
func New(opts Options, store *selection.Store) (capture.Backend, func() error, error) {
	log := logger.WithComponent("platform")

	var enum compositor.Backend
	if h, err := compositor.NewHyprland(); err == nil {
		enum = h
	} else {
		log.Info().Err(err).Msg("No supported compositor, enumeration disabled")
	}

	var factory pipewire.SourceFactory
	switch opts.StreamBackend {
	case "", StreamGStreamer:
		factory = gstsource.New
	case StreamSubprocess:
		factory = pipewire.NewSubprocessSource
	default:
		return nil, nil, fmt.Errorf("unknown stream backend %q", opts.StreamBackend)
	}

	portal, err := pipewire.NewPortal(opts.Portal)
	if err != nil {
		return nil, nil, err
	}

	b := pipewire.NewBackend(enum, store, portal, factory, pipewire.BackendConfig{
		QueueDepth:  opts.QueueDepth,
		PollTimeout: opts.PollTimeout,
		Limits:      opts.Limits,
	})
	return b, portal.Close, nil
}
