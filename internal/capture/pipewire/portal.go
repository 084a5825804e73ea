package pipewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor uint32 = 1 << 0
	SourceTypeWindow  uint32 = 1 << 1
	SourceTypeVirtual uint32 = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   uint32 = 1 << 0
	CursorModeEmbedded uint32 = 1 << 1
	CursorModeMetadata uint32 = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        uint32 = 0
	PersistModeApplication uint32 = 1
	PersistModeSession     uint32 = 2
)

// DefaultPortalTimeout bounds each step of the handshake.
const DefaultPortalTimeout = 30 * time.Second

// PortalOptions configures the handshake.
type PortalOptions struct {
	// Timeout bounds each request/response step.
	Timeout     time.Duration
	CursorMode  uint32
	PersistMode uint32
	// TokenPath stores the restore token. Empty disables persistence.
	TokenPath string
}

// DefaultTokenPath returns <config-dir>/<app>/portal_token.
func DefaultTokenPath(appName string) string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return filepath.Join(configDir, appName, "portal_token")
}

// StreamInfo describes one stream granted by Start.
type StreamInfo struct {
	NodeID     uint32
	SourceType uint32
	// ID is the source identifier reported for the stream, if any.
	ID     string
	X, Y   int
	Width  int
	Height int
}

// Handshake is a negotiated, open portal session.
type Handshake interface {
	Stream() StreamInfo
	// Remote is the PipeWire connection for the stream, or nil.
	Remote() *os.File
	Close() error
}

// Negotiator runs the ScreenCast handshake for the given source types.
type Negotiator interface {
	Negotiate(ctx context.Context, types uint32) (Handshake, error)
}

// Portal handles xdg-desktop-portal screen casting via D-Bus.
type Portal struct {
	conn *dbus.Conn
	opts PortalOptions

	mu           sync.Mutex
	restoreToken string
}

var tokenCounter atomic.Uint64

// NewPortal connects to the session bus.
func NewPortal(opts PortalOptions) (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return NewPortalWithConn(conn, opts), nil
}

// NewPortalWithConn uses an existing bus connection.
func NewPortalWithConn(conn *dbus.Conn, opts PortalOptions) *Portal {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPortalTimeout
	}
	if opts.CursorMode == 0 {
		opts.CursorMode = CursorModeEmbedded
	}
	p := &Portal{conn: conn, opts: opts}
	p.restoreToken = loadRestoreToken(opts.TokenPath)
	return p
}

// Close closes the bus connection.
func (p *Portal) Close() error {
	return p.conn.Close()
}

// Session is an open ScreenCast session.
type Session struct {
	portal *Portal
	handle dbus.ObjectPath
	stream StreamInfo
	remote *os.File

	closeOnce sync.Once
}

// Handle returns the session object path.
func (s *Session) Handle() dbus.ObjectPath { return s.handle }

// Stream returns the granted stream.
func (s *Session) Stream() StreamInfo { return s.stream }

// Remote returns the PipeWire remote, or nil if the portal did not hand one out.
func (s *Session) Remote() *os.File { return s.remote }

// Close closes the PipeWire remote and the portal session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.remote != nil {
			s.remote.Close()
		}
		call := s.portal.conn.Object(portalService, s.handle).Call(sessionIface+".Close", 0)
		err = call.Err
		logger.WithComponent("portal").Debug().Str("session", string(s.handle)).Msg("Portal session closed")
	})
	return err
}

// Negotiate runs CreateSession, SelectSources, Start and OpenPipeWireRemote.
// Denial surfaces as ErrPortalDenied and an unanswered step as
// ErrPortalTimeout.
func (p *Portal) Negotiate(ctx context.Context, types uint32) (Handshake, error) {
	log := logger.WithComponent("portal")

	handle, err := p.createSession(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{portal: p, handle: handle}
	log.Debug().Str("session", string(handle)).Msg("Created portal session")

	if err := p.selectSources(ctx, handle, types); err != nil {
		s.Close()
		return nil, err
	}
	log.Debug().Uint32("types", types).Msg("Selected sources")

	stream, err := p.start(ctx, handle)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.stream = stream

	remote, err := p.openPipeWireRemote(handle)
	if err != nil {
		log.Warn().Err(err).Msg("OpenPipeWireRemote failed, using default PipeWire socket")
	}
	s.remote = remote

	log.Info().
		Uint32("node_id", stream.NodeID).
		Uint32("source_type", stream.SourceType).
		Int("width", stream.Width).
		Int("height", stream.Height).
		Msg("Screen cast started")
	return s, nil
}

// newToken returns a handle token unique within this process.
func newToken(prefix string) string {
	return fmt.Sprintf("screenrec_%s_%d_%d", prefix, os.Getpid(), tokenCounter.Add(1))
}

// requestPath predicts the Request object path for a handle token.
func requestPath(uniqueName, token string) dbus.ObjectPath {
	sender := strings.ReplaceAll(strings.TrimPrefix(uniqueName, ":"), ".", "_")
	return dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + sender + "/" + token)
}

// request calls a ScreenCast method that answers through a Request object
// and waits for its Response signal.
func (p *Portal) request(ctx context.Context, method, token string, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")

	expected := requestPath(p.conn.Names()[0], token)

	// Set up response channel BEFORE making the call
	signals := make(chan *dbus.Signal, 10)
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	}
	if err := p.conn.AddMatchSignal(matchOpts...); err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	defer p.conn.RemoveMatchSignal(matchOpts...)
	p.conn.Signal(signals)
	defer p.conn.RemoveSignal(signals)

	var reqPath dbus.ObjectPath
	obj := p.conn.Object(portalService, portalPath)
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, args...).Store(&reqPath); err != nil {
		if ctx.Err() != nil {
			return nil, capture.NewError(capture.KindPortalTimeout, method, err)
		}
		return nil, capture.NewError(capture.KindPortalDenied, method+" call failed", err)
	}
	log.Debug().Str("method", method).Str("request_path", string(reqPath)).Msg("Waiting for portal response")

	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.cancelRequest(reqPath)
			return nil, capture.NewError(capture.KindPortalTimeout, method, ctx.Err())
		case <-timer.C:
			p.cancelRequest(reqPath)
			return nil, capture.NewError(capture.KindPortalTimeout,
				fmt.Sprintf("%s: no response after %s", method, p.opts.Timeout), nil)
		case sig := <-signals:
			if sig.Name != requestIface+".Response" || (sig.Path != reqPath && sig.Path != expected) {
				continue
			}
			return parseResponse(method, sig.Body)
		}
	}
}

// parseResponse decodes a Request.Response body (u, a{sv}).
func parseResponse(method string, body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 2 {
		return nil, capture.NewError(capture.KindPortalDenied, method+": malformed response", nil)
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, capture.NewError(capture.KindPortalDenied, fmt.Sprintf("%s: response code has type %T", method, body[0]), nil)
	}
	results, _ := body[1].(map[string]dbus.Variant)
	switch code {
	case 0:
		return results, nil
	case 1:
		return nil, capture.NewError(capture.KindPortalDenied, method+": cancelled", nil)
	default:
		return nil, capture.NewError(capture.KindPortalDenied, fmt.Sprintf("%s: failed (code %d)", method, code), nil)
	}
}

func (p *Portal) cancelRequest(path dbus.ObjectPath) {
	if path == "" {
		return
	}
	p.conn.Object(portalService, path).Call(requestIface+".Close", dbus.FlagNoReplyExpected)
}

func (p *Portal) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(newToken("create")),
		"session_handle_token": dbus.MakeVariant(newToken("session")),
	}
	results, err := p.request(ctx, "CreateSession", options["handle_token"].Value().(string), options)
	if err != nil {
		return "", err
	}

	if v, ok := results["session_handle"]; ok {
		// Handle both string and ObjectPath types
		switch h := v.Value().(type) {
		case dbus.ObjectPath:
			return h, nil
		case string:
			return dbus.ObjectPath(h), nil
		}
	}
	return "", capture.NewError(capture.KindPortalDenied, "CreateSession: no session handle in response", nil)
}

func (p *Portal) selectSources(ctx context.Context, session dbus.ObjectPath, types uint32) error {
	token := newToken("select")
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"types":        dbus.MakeVariant(types),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(p.opts.CursorMode),
		"persist_mode": dbus.MakeVariant(p.opts.PersistMode),
	}

	p.mu.Lock()
	if p.restoreToken != "" && p.opts.PersistMode != PersistModeNone {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
		logger.WithComponent("portal").Debug().Msg("Using saved restore token")
	}
	p.mu.Unlock()

	_, err := p.request(ctx, "SelectSources", token, session, options)
	return err
}

func (p *Portal) start(ctx context.Context, session dbus.ObjectPath) (StreamInfo, error) {
	token := newToken("start")
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
	}

	// Start with empty parent window
	results, err := p.request(ctx, "Start", token, session, "", options)
	if err != nil {
		return StreamInfo{}, err
	}

	// Save restore token for future sessions
	if v, ok := results["restore_token"]; ok {
		if tok, ok := v.Value().(string); ok && tok != "" {
			p.mu.Lock()
			p.restoreToken = tok
			p.mu.Unlock()
			if err := saveRestoreToken(p.opts.TokenPath, tok); err != nil {
				logger.WithComponent("portal").Warn().Err(err).Msg("Failed to save restore token")
			}
		}
	}

	v, ok := results["streams"]
	if !ok {
		return StreamInfo{}, capture.NewError(capture.KindPortalDenied, "Start: no streams in response", nil)
	}
	streams, err := parseStreams(v.Value())
	if err != nil {
		return StreamInfo{}, capture.NewError(capture.KindPortalDenied, "Start", err)
	}
	return streams[0], nil
}

func (p *Portal) openPipeWireRemote(session dbus.ObjectPath) (*os.File, error) {
	var fd dbus.UnixFD
	obj := p.conn.Object(portalService, portalPath)
	err := obj.Call(screenCastIface+".OpenPipeWireRemote", 0, session, map[string]dbus.Variant{}).Store(&fd)
	if err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, errors.New("invalid file descriptor")
	}
	return os.NewFile(uintptr(fd), "pipewire-remote"), nil
}

// parseStreams decodes a(ua{sv}). godbus hands the struct elements over
// as []interface{}.
func parseStreams(v interface{}) ([]StreamInfo, error) {
	var raw [][]interface{}
	switch s := v.(type) {
	case [][]interface{}:
		raw = s
	case []interface{}:
		for _, e := range s {
			if fields, ok := e.([]interface{}); ok {
				raw = append(raw, fields)
			}
		}
	default:
		return nil, fmt.Errorf("unknown streams format %T", v)
	}

	var out []StreamInfo
	for _, fields := range raw {
		if len(fields) < 1 {
			continue
		}
		node, ok := fields[0].(uint32)
		if !ok {
			continue
		}
		info := StreamInfo{NodeID: node}
		if len(fields) > 1 {
			if props, ok := fields[1].(map[string]dbus.Variant); ok {
				applyStreamProps(&info, props)
			}
		}
		out = append(out, info)
	}
	if len(out) == 0 {
		return nil, errors.New("no streams in response")
	}
	return out, nil
}

func applyStreamProps(info *StreamInfo, props map[string]dbus.Variant) {
	if v, ok := props["source_type"]; ok {
		if t, ok := v.Value().(uint32); ok {
			info.SourceType = t
		}
	}
	if v, ok := props["id"]; ok {
		if id, ok := v.Value().(string); ok {
			info.ID = id
		}
	}
	if x, y, ok := pairOf(props["position"]); ok {
		info.X, info.Y = x, y
	}
	if w, h, ok := pairOf(props["size"]); ok {
		info.Width, info.Height = w, h
	}
}

// pairOf reads an (ii) variant.
func pairOf(v dbus.Variant) (int, int, bool) {
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) != 2 {
		return 0, 0, false
	}
	a, ok1 := fields[0].(int32)
	b, ok2 := fields[1].(int32)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return int(a), int(b), true
}

type tokenFile struct {
	Token string `json:"token"`
}

// loadRestoreToken loads the restore token from disk
func loadRestoreToken(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var t tokenFile
	if err := json.Unmarshal(data, &t); err != nil {
		return ""
	}
	return t.Token
}

// saveRestoreToken saves the restore token to disk
func saveRestoreToken(path, token string) error {
	if path == "" || token == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(tokenFile{Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
