package picker

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// Bus names and paths.
const (
	ServiceName     = "org.freedesktop.impl.portal.desktop.screenrecorder"
	ObjectPath      = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	ScreenCastIface = "org.freedesktop.impl.portal.ScreenCast"
	SessionIface    = "org.freedesktop.impl.portal.Session"
	introspectIface = "org.freedesktop.DBus.Introspectable"
	propertiesIface = "org.freedesktop.DBus.Properties"
)

// Service publishes a Backend on a bus connection.
type Service struct {
	conn    *dbus.Conn
	backend *Backend

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]struct{}
}

// sessionObject is exported at each session handle.
type sessionObject struct {
	backend *Backend
	path    dbus.ObjectPath
}

// Close is called by the portal frontend when the client closes the session.
func (o *sessionObject) Close() *dbus.Error {
	o.backend.CloseSession(o.path)
	return nil
}

// Export registers the ScreenCast interface, its properties and
// introspection data at ObjectPath. It does not claim the bus name.
func Export(conn *dbus.Conn, b *Backend) (*Service, error) {
	s := &Service{conn: conn, backend: b, sessions: make(map[dbus.ObjectPath]struct{})}

	if err := conn.Export(b, ObjectPath, ScreenCastIface); err != nil {
		return nil, fmt.Errorf("export %s: %w", ScreenCastIface, err)
	}

	props, err := prop.Export(conn, ObjectPath, prop.Map{
		ScreenCastIface: {
			"AvailableSourceTypes": {Value: AvailableSourceTypes, Writable: false, Emit: prop.EmitFalse},
			"AvailableCursorModes": {Value: AvailableCursorModes, Writable: false, Emit: prop.EmitFalse},
			"version":              {Value: InterfaceVersion, Writable: false, Emit: prop.EmitFalse},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("export properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       ScreenCastIface,
				Methods:    introspect.Methods(b),
				Properties: props.Introspection(ScreenCastIface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, introspectIface); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	b.setHooks(s.exportSession, s.unexportSession)
	return s, nil
}

func (s *Service) exportSession(path dbus.ObjectPath) {
	obj := &sessionObject{backend: s.backend, path: path}
	if err := s.conn.Export(obj, path, SessionIface); err != nil {
		s.backend.log().Warn().Err(err).Str("session", string(path)).Msg("Failed to export session object")
		return
	}
	s.mu.Lock()
	s.sessions[path] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) unexportSession(path dbus.ObjectPath) {
	s.mu.Lock()
	_, ok := s.sessions[path]
	delete(s.sessions, path)
	s.mu.Unlock()
	if ok {
		s.conn.Export(nil, path, SessionIface)
	}
}

// RequestName claims ServiceName. It fails when another picker owns it.
func (s *Service) RequestName() error {
	reply, err := s.conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", ServiceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}
	return nil
}

// Close releases the name and removes every exported object.
func (s *Service) Close() error {
	s.backend.setHooks(nil, nil)

	s.mu.Lock()
	for path := range s.sessions {
		s.conn.Export(nil, path, SessionIface)
	}
	s.sessions = make(map[dbus.ObjectPath]struct{})
	s.mu.Unlock()

	s.conn.Export(nil, ObjectPath, ScreenCastIface)
	s.conn.Export(nil, ObjectPath, introspectIface)
	s.conn.Export(nil, ObjectPath, propertiesIface)

	_, err := s.conn.ReleaseName(ServiceName)
	return err
}

// Run exports b on the session bus, claims the service name and serves
// until ctx is cancelled.
func Run(ctx context.Context, b *Backend) error {
	log := b.log()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	svc, err := Export(conn, b)
	if err != nil {
		return err
	}
	if err := svc.RequestName(); err != nil {
		return err
	}
	log.Info().Str("name", ServiceName).Str("path", string(ObjectPath)).Msg("Picker service ready")

	<-ctx.Done()
	log.Info().Msg("Picker service stopping")
	return svc.Close()
}
