package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/capturetest"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

func newTestManager(t *testing.T) (*Manager, *capturetest.Backend, *memSink) {
	t.Helper()
	backend := &capturetest.Backend{Monitors: []capture.MonitorInfo{dp1}}
	sink := newMemSink()
	m := NewManager(backend, selection.NewStore(), func(Target) (Sink, error) { return sink, nil }, geometry.DefaultLimits)
	return m, backend, sink
}

func TestManagerNoSelection(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop err = %v, want ErrNotRecording", err)
	}
	if st := m.Status(); st.Recording || st.State != StateIdle {
		t.Fatalf("status = %+v", st)
	}
}

func TestManagerRecordsSelectionAndClearsIt(t *testing.T) {
	m, backend, sink := newTestManager(t)
	r := capture.CaptureRegion{MonitorID: "DP-1", X: 400, Y: 400, Width: 800, Height: 600}
	if err := m.Store().Set(selection.Region(r)); err != nil {
		t.Fatal(err)
	}

	events, cancel := m.Subscribe(16)
	defer cancel()

	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}

	backend.Last().Emit(0, 0)
	waitWrote(t, sink)

	st := m.Status()
	for i := 0; i < 200 && st.Frames == 0; i++ {
		time.Sleep(5 * time.Millisecond)
		st = m.Status()
	}
	if !st.Recording || st.Frames != 1 || st.Target != "region DP-1@400,400,800x600" {
		t.Fatalf("status = %+v", st)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Store().Get(); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("selection not cleared after the recording ended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var got []State
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("events so far %v", got)
		}
	}
	want := []State{StateValidating, StateNegotiating, StateStreaming, StateStopped}
	if !equalStates(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if st := m.Status(); st.Recording || st.State != StateStopped {
		t.Fatalf("final status = %+v", st)
	}
}

func TestManagerSinkFactoryError(t *testing.T) {
	backend := &capturetest.Backend{Monitors: []capture.MonitorInfo{dp1}}
	store := selection.NewStore()
	store.Set(selection.Monitor("DP-1"))
	boom := errors.New("read-only file system")
	m := NewManager(backend, store, func(Target) (Sink, error) { return nil, boom }, geometry.DefaultLimits)

	if _, err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(backend.Streams()) != 0 {
		t.Fatal("stream opened without a sink")
	}
}

func TestManagerSubscribeCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	ch, cancel := m.Subscribe(0)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	// Publishing with no subscribers must not block.
	m.publish(Event{State: StateValidating})
}

func TestManagerUsableDuringNegotiation(t *testing.T) {
	backend := newGatedBackend(true)
	sink := newMemSink()
	store := selection.NewStore()
	store.Set(selection.Monitor("DP-1"))
	m := NewManager(backend, store, func(Target) (Sink, error) { return sink, nil }, geometry.DefaultLimits)

	started := make(chan error, 1)
	go func() {
		_, err := m.Start(context.Background())
		started <- err
	}()
	waitEntered(t, backend)

	status := make(chan Status, 1)
	go func() { status <- m.Status() }()
	select {
	case st := <-status:
		if st.Recording || st.State != StateNegotiating {
			t.Fatalf("status = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked during negotiation")
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()
	if err := waitErr(t, stopped, "Stop"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := waitErr(t, started, "Start"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start err = %v, want ErrStopped", err)
	}
	if st := m.Status(); st.State != StateFailed {
		t.Fatalf("final status = %+v", st)
	}
	if _, finished := sink.counts(); finished != 1 {
		t.Fatalf("sink finished %d times", finished)
	}
}
