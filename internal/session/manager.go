package session

import (
	"context"
	"errors"
	"sync"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

var (
	// ErrNoSelection is returned by Manager.Start when nothing is selected.
	ErrNoSelection = errors.New("session: no selection")
	// ErrBusy is returned by Manager.Start while a recording is running.
	ErrBusy = errors.New("session: a recording is already running")
	// ErrNotRecording is returned by Manager.Stop when nothing is running.
	ErrNotRecording = errors.New("session: not recording")
)

// SinkFactory opens the output for a new recording.
type SinkFactory func(Target) (Sink, error)

// Status summarizes the manager's current or last session.
type Status struct {
	Recording bool   `json:"recording"`
	State     State  `json:"state"`
	Target    string `json:"target,omitempty"`
	Frames    uint64 `json:"frames"`
	Reason    string `json:"reason,omitempty"`
}

// Manager runs at most one session at a time from the current selection,
// and fans session events out to subscribers.
type Manager struct {
	backend capture.Backend
	store   *selection.Store
	newSink SinkFactory
	limits  geometry.Limits

	mu      sync.Mutex
	current *Session

	// subsMu guards last as well.
	subsMu sync.Mutex
	last   Event
	subs   map[chan Event]struct{}
}

// NewManager wires a manager. store is shared with the IPC server.
func NewManager(backend capture.Backend, store *selection.Store, newSink SinkFactory, limits geometry.Limits) *Manager {
	if limits == (geometry.Limits{}) {
		limits = geometry.DefaultLimits
	}
	return &Manager{
		backend: backend,
		store:   store,
		newSink: newSink,
		limits:  limits,
		last:    Event{State: StateIdle},
		subs:    make(map[chan Event]struct{}),
	}
}

// Backend returns the capture backend.
func (m *Manager) Backend() capture.Backend { return m.backend }

// Store returns the selection store.
func (m *Manager) Store() *selection.Store { return m.store }

// Limits returns the region limits sessions validate against.
func (m *Manager) Limits() geometry.Limits { return m.limits }

// Start records the current selection. It returns once the stream is
// granted; Status and Stop stay usable while the portal handshake runs.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	s, target, err := m.reserve()
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, target); err != nil {
		return s, err
	}

	go m.watch(s)
	return s, nil
}

// reserve installs a new idle session as current, so concurrent Starts see
// ErrBusy while it negotiates.
func (m *Manager) reserve() (*Session, Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.State().Terminal() {
		return nil, Target{}, ErrBusy
	}
	sel, ok := m.store.Get()
	if !ok {
		return nil, Target{}, ErrNoSelection
	}
	target, err := TargetFromSelection(sel)
	if err != nil {
		return nil, Target{}, err
	}
	sink, err := m.newSink(target)
	if err != nil {
		return nil, Target{}, err
	}

	s := New(m.backend, sink, Options{Limits: m.limits, Notify: m.publish})
	m.current = s
	return s, target, nil
}

// watch clears the selection once the session has ended.
func (m *Manager) watch(s *Session) {
	<-s.Done()
	m.store.Clear()
	logger.WithComponent("session").Debug().Str("state", string(s.State())).Msg("Recording ended, selection cleared")
}

// Stop ends the running recording.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil || s.State().Terminal() {
		return ErrNotRecording
	}
	return s.Stop()
}

// Current returns the current or last session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Status reports on the current or last session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	m.subsMu.Lock()
	last := m.last
	m.subsMu.Unlock()

	st := Status{State: last.State, Target: last.Target, Reason: last.Reason}
	if s != nil {
		st.State = s.State()
		st.Frames = s.Frames()
		st.Target = s.Target().String()
		st.Recording = st.State == StateStreaming
	}
	return st
}

// Subscribe returns a channel of session events. Slow subscribers miss
// events rather than stall the session. Call the returned func to stop.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.last = ev
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
