// Package session drives one recording: validate the target, negotiate a
// stream, pump frames into a sink and wind down, preserving partial output
// when the compositor ends the stream early.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// ErrStopped is returned by Start when Stop was called before the stream was
// granted.
var ErrStopped = errors.New("session: stopped before streaming")

// Target is what a session records.
type Target struct {
	Type      capture.SourceType
	WindowID  capture.WindowID
	MonitorID capture.MonitorID
	// Region is set for region targets, in physical pixels.
	Region *capture.CaptureRegion
}

// TargetFromSelection converts a confirmed selection.
func TargetFromSelection(sel selection.Selection) (Target, error) {
	if err := sel.Validate(); err != nil {
		return Target{}, capture.NewError(capture.KindInvalidRegion, "selection", err)
	}
	switch sel.Type {
	case capture.SourceWindow:
		return Target{Type: sel.Type, WindowID: capture.WindowID(sel.SourceID)}, nil
	case capture.SourceMonitor:
		return Target{Type: sel.Type, MonitorID: capture.MonitorID(sel.SourceID)}, nil
	default:
		r := *sel.Region
		return Target{Type: sel.Type, MonitorID: r.MonitorID, Region: &r}, nil
	}
}

func (t Target) String() string {
	switch t.Type {
	case capture.SourceWindow:
		return "window " + string(t.WindowID)
	case capture.SourceMonitor:
		return "monitor " + string(t.MonitorID)
	case capture.SourceRegion:
		if t.Region != nil {
			return "region " + t.Region.String()
		}
	}
	return string(t.Type)
}

// Event reports a state change.
type Event struct {
	State  State     `json:"state"`
	Target string    `json:"target,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Frames uint64    `json:"frames"`
	At     time.Time `json:"at"`
	// Warning carries non-fatal notices such as a clipped region.
	Warning string `json:"warning,omitempty"`
	Err     error  `json:"-"`
}

// Options tunes a session.
type Options struct {
	Limits geometry.Limits
	// Notify receives every event, synchronously, in order.
	Notify func(Event)
}

// Session is a single recording. It is not reusable.
type Session struct {
	backend capture.Backend
	sink    Sink
	opts    Options

	mu     sync.Mutex
	state  State
	target Target
	err    error
	frames uint64
	stop   *capture.StopHandle
	// cancel aborts Start; stopping is set by a Stop that came before the
	// stream was granted.
	cancel   context.CancelFunc
	stopping bool

	done       chan struct{}
	finishOnce sync.Once
	finishErr  error
}

// New creates an idle session that writes into sink.
func New(backend capture.Backend, sink Sink, opts Options) *Session {
	if opts.Limits == (geometry.Limits{}) {
		opts.Limits = geometry.DefaultLimits
	}
	return &Session{
		backend: backend,
		sink:    sink,
		opts:    opts,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames returns the number of frames written to the sink.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Target returns what the session records.
func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Done is closed once the session is Stopped or Failed and the sink is
// finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) transition(to State, ev Event) {
	s.mu.Lock()
	if err := checkTransition(s.state, to); err != nil {
		s.mu.Unlock()
		logger.WithComponent("session").Error().Err(err).Msg("Ignoring transition")
		return
	}
	s.state = to
	if ev.Err != nil && s.err == nil {
		s.err = ev.Err
	}
	ev.State = to
	ev.Target = s.target.String()
	ev.Frames = s.frames
	ev.At = time.Now()
	s.mu.Unlock()

	log := logger.WithComponent("session")
	e := log.Info()
	if to == StateFailed || to == StateDegraded {
		e = log.Warn().Err(ev.Err)
	}
	e.Str("state", string(to)).Str("target", ev.Target).Str("reason", ev.Reason).Msg("Session state changed")

	if s.opts.Notify != nil {
		s.opts.Notify(ev)
	}
}

// Start validates the target, negotiates the stream and begins writing
// frames. Failures before streaming leave the session Failed and are
// returned; nothing is written to the sink in that case, but it is still
// finished. A Stop during validation or negotiation cancels ctx and makes
// Start return ErrStopped.
func (s *Session) Start(ctx context.Context, target Target) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session: already %s", s.state)
	}
	s.target = target
	s.cancel = cancel
	s.mu.Unlock()

	s.transition(StateValidating, Event{})
	if s.stopRequested() {
		return s.abort(ErrStopped)
	}
	target, warning, err := s.validate(ctx, target)
	if err != nil {
		return s.abort(err)
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	s.transition(StateNegotiating, Event{Warning: warning})
	stream, stop, err := s.open(ctx, target)
	if err != nil {
		return s.abort(err)
	}

	s.mu.Lock()
	stopping := s.stopping
	if !stopping {
		s.stop = stop
	}
	s.mu.Unlock()
	if stopping {
		// The backend granted the stream after Stop; release it unread.
		if err := stop.Stop(); err != nil {
			logger.WithComponent("session").Warn().Err(err).Msg("Stream teardown reported an error")
		}
		return s.abort(ErrStopped)
	}

	s.transition(StateStreaming, Event{})
	go s.pump(stream, stop)
	return nil
}

// validate checks the target against the backend's view of the monitors.
// Regions are clipped to the current monitor bounds; a clip that loses too
// much is reported as a warning. The minimum size was enforced when the
// region was selected and is not applied again.
func (s *Session) validate(ctx context.Context, t Target) (Target, string, error) {
	switch t.Type {
	case capture.SourceWindow:
		if t.WindowID == "" {
			return t, "", capture.NewError(capture.KindInvalidRegion, "empty window id", nil)
		}
		return t, "", nil
	case capture.SourceMonitor:
		if t.MonitorID == "" {
			return t, "", capture.NewError(capture.KindInvalidRegion, "empty monitor id", nil)
		}
		return t, "", nil
	case capture.SourceRegion:
	default:
		return t, "", capture.NewError(capture.KindInvalidRegion, fmt.Sprintf("unknown target type %q", t.Type), nil)
	}

	if t.Region == nil || t.Region.Width <= 0 || t.Region.Height <= 0 {
		return t, "", capture.NewError(capture.KindInvalidRegion, "region has no area", nil)
	}

	monitors, err := s.backend.ListMonitors(ctx)
	if err != nil {
		// Without enumeration the backend does the size checks itself.
		logger.WithComponent("session").Debug().Err(err).Msg("Monitor list unavailable, skipping bounds check")
		return t, "", nil
	}
	for _, m := range monitors {
		if m.ID != t.Region.MonitorID {
			continue
		}
		res, err := geometry.Fit(*t.Region, m, s.opts.Limits)
		if err != nil {
			return t, "", err
		}
		r := res.Region
		t.Region = &r
		if res.Warning {
			return t, fmt.Sprintf("region clipped from %s to %s (%.0f%% outside the monitor)",
				res.Requested, res.Region, res.LostFraction*100), nil
		}
		return t, "", nil
	}
	return t, "", capture.NewError(capture.KindInvalidRegion, fmt.Sprintf("unknown monitor %q", t.Region.MonitorID), nil)
}

func (s *Session) open(ctx context.Context, t Target) (*capture.FrameStream, *capture.StopHandle, error) {
	switch t.Type {
	case capture.SourceWindow:
		return s.backend.StartWindowCapture(ctx, t.WindowID)
	case capture.SourceMonitor:
		return s.backend.StartMonitorCapture(ctx, t.MonitorID)
	default:
		return s.backend.StartRegionCapture(ctx, *t.Region)
	}
}

func (s *Session) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// abort fails a session that never reached Streaming. Errors caused by a
// Stop are reported as ErrStopped.
func (s *Session) abort(err error) error {
	if s.stopRequested() {
		err = ErrStopped
	}
	s.fail(err)
	return err
}

func (s *Session) fail(err error) {
	s.transition(StateFailed, Event{Reason: err.Error(), Err: err})
	s.finish()
	close(s.done)
}

// pump copies frames to the sink until the stream ends.
func (s *Session) pump(stream *capture.FrameStream, stop *capture.StopHandle) {
	defer close(s.done)

	var sinkErr error
	for f := range stream.Frames() {
		if sinkErr != nil {
			continue
		}
		if err := s.sink.WriteFrame(f); err != nil {
			sinkErr = err
			// Stop in the background; this loop drains until the stream closes.
			go stop.Stop()
			continue
		}
		s.mu.Lock()
		s.frames++
		s.mu.Unlock()
	}

	streamErr := stream.Err()
	finishErr := s.finish()

	switch {
	case sinkErr != nil:
		s.transition(StateFailed, Event{Reason: "sink: " + sinkErr.Error(), Err: sinkErr})
	case streamErr != nil:
		reason := "stream ended"
		var ce *capture.CaptureError
		if errors.As(streamErr, &ce) {
			reason = ce.Error()
		}
		s.transition(StateDegraded, Event{Reason: "recording ended early: " + reason, Err: streamErr})
		stop.Stop()
		s.transition(StateStopped, Event{Reason: "partial output preserved", Err: finishErr})
	default:
		s.transition(StateStopped, Event{Err: finishErr})
	}
}

func (s *Session) finish() error {
	s.finishOnce.Do(func() {
		s.finishErr = s.sink.Finish()
	})
	return s.finishErr
}

// Stop ends the recording and waits until the sink is finished. It returns
// the sink's finish error. Before the stream is granted, Stop aborts Start
// instead, which then returns ErrStopped. Calling Stop on a session that
// never started, or more than once, is harmless.
func (s *Session) Stop() error {
	s.mu.Lock()
	stop := s.stop
	cancel := s.cancel
	if stop == nil {
		s.stopping = true
	}
	s.mu.Unlock()

	if stop == nil {
		if cancel == nil {
			// Not started; a later Start returns ErrStopped.
			return nil
		}
		cancel()
		<-s.done
		return s.finishErr
	}
	err := stop.Stop()
	<-s.done
	if err != nil {
		logger.WithComponent("session").Warn().Err(err).Msg("Stream teardown reported an error")
	}
	return s.finishErr
}
