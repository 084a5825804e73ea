// Package picker implements org.freedesktop.impl.portal.ScreenCast without a
// dialog. On Start it asks the main application for the user's selection
// over the local IPC socket and approves exactly that source, or denies the
// request when there is nothing to approve.
package picker

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/marker"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// Response codes understood by xdg-desktop-portal.
const (
	ResponseSuccess   uint32 = 0
	ResponseCancelled uint32 = 1
	ResponseOther     uint32 = 2
)

// Source type bits.
const (
	SourceTypeMonitor uint32 = 1 << 0
	SourceTypeWindow  uint32 = 1 << 1
)

// Cursor mode bits.
const (
	CursorModeHidden   uint32 = 1 << 0
	CursorModeEmbedded uint32 = 1 << 1
	CursorModeMetadata uint32 = 1 << 2
)

// Advertised properties.
const (
	AvailableSourceTypes = SourceTypeMonitor | SourceTypeWindow
	AvailableCursorModes = CursorModeEmbedded
	InterfaceVersion     = uint32(4)
)

// DefaultQueryTimeout bounds the selection query made during Start.
const DefaultQueryTimeout = 3 * time.Second

// Querier returns the main application's current selection. ok is false
// when nothing is selected. *ipc.Client satisfies it.
type Querier interface {
	QuerySelection(ctx context.Context) (sel selection.Selection, ok bool, err error)
}

// Session is what the picker remembers between CreateSession and Start.
type Session struct {
	Handle       dbus.ObjectPath
	AppID        string
	SourceTypes  uint32
	CursorMode   uint32
	PersistMode  uint32
	RestoreToken string
	Created      time.Time
}

// Stream is one entry of the a(ua{sv}) streams result. The node id is left
// at zero; the compositor's portal resolves the source from the properties.
type Stream struct {
	NodeID uint32
	Props  map[string]dbus.Variant
}

// Pair encodes as a D-Bus (ii) struct.
type Pair struct {
	A int32
	B int32
}

// Backend holds the portal logic. Its exported methods use D-Bus types so
// it can be exported directly, but none of them need a bus.
type Backend struct {
	querier      Querier
	queryTimeout time.Duration

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*Session

	onCreate func(dbus.ObjectPath)
	onClose  func(dbus.ObjectPath)
}

// NewBackend creates a backend that asks q for the selection.
func NewBackend(q Querier, queryTimeout time.Duration) *Backend {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Backend{
		querier:      q,
		queryTimeout: queryTimeout,
		sessions:     make(map[dbus.ObjectPath]*Session),
	}
}

func (b *Backend) log() *zerolog.Logger {
	return logger.WithComponent("picker")
}

// CreateSession records a new session.
func (b *Backend) CreateSession(handle, sessionHandle dbus.ObjectPath, appID string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	b.log().Info().
		Str("handle", string(handle)).
		Str("session", string(sessionHandle)).
		Str("app_id", appID).
		Msg("CreateSession")

	b.mu.Lock()
	b.sessions[sessionHandle] = &Session{
		Handle:     sessionHandle,
		AppID:      appID,
		CursorMode: CursorModeEmbedded,
		Created:    time.Now(),
	}
	hook := b.onCreate
	b.mu.Unlock()

	if hook != nil {
		hook(sessionHandle)
	}
	return ResponseSuccess, map[string]dbus.Variant{}, nil
}

// SelectSources stores the requested options on the session. The actual
// choice is deferred to Start.
func (b *Backend) SelectSources(handle, sessionHandle dbus.ObjectPath, appID string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	log := b.log()

	types := optUint32(options, "types", AvailableSourceTypes)
	cursor := optUint32(options, "cursor_mode", CursorModeEmbedded)
	persist := optUint32(options, "persist_mode", 0)
	token := optString(options, "restore_token")

	log.Info().
		Str("session", string(sessionHandle)).
		Uint32("types", types).
		Uint32("cursor_mode", cursor).
		Uint32("persist_mode", persist).
		Bool("restore_token", token != "").
		Msg("SelectSources")

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionHandle]
	if !ok {
		log.Warn().Str("session", string(sessionHandle)).Msg("SelectSources for unknown session")
		return ResponseOther, map[string]dbus.Variant{}, nil
	}
	s.SourceTypes = types
	s.CursorMode = cursor
	s.PersistMode = persist
	s.RestoreToken = token
	return ResponseSuccess, map[string]dbus.Variant{}, nil
}

// Start asks the main application for its selection and approves it. An
// unreachable application, an empty selection or an error reply all deny.
func (b *Backend) Start(handle, sessionHandle dbus.ObjectPath, appID, parentWindow string, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, *dbus.Error) {
	log := b.log()
	log.Info().Str("handle", string(handle)).Str("session", string(sessionHandle)).Msg("Start")

	b.mu.Lock()
	s, known := b.sessions[sessionHandle]
	var session Session
	if known {
		session = *s
	}
	b.mu.Unlock()
	if !known {
		log.Warn().Str("session", string(sessionHandle)).Msg("Start for unknown session, denying")
		return ResponseOther, map[string]dbus.Variant{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.queryTimeout)
	defer cancel()

	sel, ok, err := b.querier.QuerySelection(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Main application unreachable, denying")
		return ResponseCancelled, map[string]dbus.Variant{}, nil
	}
	if !ok {
		log.Warn().Msg("No selection available, denying")
		return ResponseCancelled, map[string]dbus.Variant{}, nil
	}

	stream, err := streamFor(sel)
	if err != nil {
		log.Error().Err(err).Msg("Cannot encode selection, denying")
		return ResponseCancelled, map[string]dbus.Variant{}, nil
	}

	kind := stream.Props["source_type"].Value().(uint32)
	if session.SourceTypes != 0 && session.SourceTypes&kind == 0 {
		log.Warn().
			Str("selection", string(sel.Type)).
			Uint32("requested_types", session.SourceTypes).
			Msg("Selection does not match requested source types, denying")
		return ResponseCancelled, map[string]dbus.Variant{}, nil
	}

	log.Info().
		Str("type", string(sel.Type)).
		Str("id", sel.SourceID).
		Msg("Approving selection")

	return ResponseSuccess, map[string]dbus.Variant{
		"streams":      dbus.MakeVariant([]Stream{stream}),
		"persist_mode": dbus.MakeVariant(session.PersistMode),
	}, nil
}

// streamFor translates a selection into the portal's stream description.
// Regions become a monitor stream whose id carries the region marker.
func streamFor(sel selection.Selection) (Stream, error) {
	props := map[string]dbus.Variant{}
	switch sel.Type {
	case capture.SourceMonitor:
		props["source_type"] = dbus.MakeVariant(SourceTypeMonitor)
		props["id"] = dbus.MakeVariant(sel.SourceID)
	case capture.SourceWindow:
		props["source_type"] = dbus.MakeVariant(SourceTypeWindow)
		props["id"] = dbus.MakeVariant(sel.SourceID)
	case capture.SourceRegion:
		if err := sel.Validate(); err != nil {
			return Stream{}, err
		}
		id, err := marker.Encode(*sel.Region)
		if err != nil {
			return Stream{}, err
		}
		r := sel.Region
		props["source_type"] = dbus.MakeVariant(SourceTypeMonitor)
		props["id"] = dbus.MakeVariant(id)
		props["position"] = dbus.MakeVariant(Pair{int32(r.X), int32(r.Y)})
		props["size"] = dbus.MakeVariant(Pair{int32(r.Width), int32(r.Height)})
	default:
		return Stream{}, capture.NewError(capture.KindInvalidRegion, "unknown source type "+string(sel.Type), nil)
	}
	return Stream{Props: props}, nil
}

// CloseSession forgets a session. It reports whether the session existed.
func (b *Backend) CloseSession(sessionHandle dbus.ObjectPath) bool {
	b.mu.Lock()
	_, ok := b.sessions[sessionHandle]
	delete(b.sessions, sessionHandle)
	hook := b.onClose
	b.mu.Unlock()

	if ok {
		b.log().Info().Str("session", string(sessionHandle)).Msg("Session closed")
		if hook != nil {
			hook(sessionHandle)
		}
	}
	return ok
}

// Session returns a copy of a tracked session.
func (b *Backend) Session(sessionHandle dbus.ObjectPath) (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionHandle]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SessionCount returns the number of open sessions.
func (b *Backend) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Backend) setHooks(onCreate, onClose func(dbus.ObjectPath)) {
	b.mu.Lock()
	b.onCreate = onCreate
	b.onClose = onClose
	b.mu.Unlock()
}

func optUint32(options map[string]dbus.Variant, key string, def uint32) uint32 {
	if v, ok := options[key]; ok {
		if n, ok := v.Value().(uint32); ok {
			return n
		}
	}
	return def
}

func optString(options map[string]dbus.Variant, key string) string {
	if v, ok := options[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}
