package picker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/ipc"
	"github.com/screen-recorder/screen-recorder/internal/marker"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

type fakeQuerier struct {
	sel   selection.Selection
	ok    bool
	err   error
	calls int
}

func (f *fakeQuerier) QuerySelection(ctx context.Context) (selection.Selection, bool, error) {
	f.calls++
	return f.sel, f.ok, f.err
}

const (
	reqPath     = dbus.ObjectPath("/org/freedesktop/portal/desktop/request/1_42/t1")
	sessionPath = dbus.ObjectPath("/org/freedesktop/portal/desktop/session/1_42/s1")
)

func openSession(t *testing.T, b *Backend, options map[string]dbus.Variant) {
	t.Helper()
	if code, _, derr := b.CreateSession(reqPath, sessionPath, "org.example.App", nil); code != ResponseSuccess || derr != nil {
		t.Fatalf("CreateSession = %d, %v", code, derr)
	}
	if code, _, derr := b.SelectSources(reqPath, sessionPath, "org.example.App", options); code != ResponseSuccess || derr != nil {
		t.Fatalf("SelectSources = %d, %v", code, derr)
	}
}

func streamsOf(t *testing.T, results map[string]dbus.Variant) []Stream {
	t.Helper()
	v, ok := results["streams"]
	if !ok {
		t.Fatal("no streams in results")
	}
	streams, ok := v.Value().([]Stream)
	if !ok || len(streams) != 1 {
		t.Fatalf("streams = %#v", v.Value())
	}
	return streams
}

func TestStartDeniesWhenMainAppNotRunning(t *testing.T) {
	client := ipc.NewClient(filepath.Join(t.TempDir(), "missing.sock"), 200*time.Millisecond, 1)
	b := NewBackend(client, time.Second)
	openSession(t, b, nil)

	code, results, derr := b.Start(reqPath, sessionPath, "org.example.App", "", nil)
	if derr != nil {
		t.Fatalf("unexpected dbus error: %v", derr)
	}
	if code != ResponseCancelled {
		t.Fatalf("code = %d, want cancelled", code)
	}
	if _, ok := results["streams"]; ok {
		t.Fatal("denial must not carry a stream")
	}
}

func TestStartDeniesOnQueryErrorAndNoSelection(t *testing.T) {
	for name, q := range map[string]*fakeQuerier{
		"error":        {err: capture.NewError(capture.KindIPCUnavailable, "test", errors.New("refused"))},
		"no selection": {ok: false},
	} {
		t.Run(name, func(t *testing.T) {
			b := NewBackend(q, time.Second)
			openSession(t, b, nil)
			code, results, _ := b.Start(reqPath, sessionPath, "", "", nil)
			if code != ResponseCancelled || len(results) != 0 {
				t.Fatalf("Start = %d, %v", code, results)
			}
			if q.calls != 1 {
				t.Fatalf("querier called %d times", q.calls)
			}
		})
	}
}

func TestStartMonitorAndWindow(t *testing.T) {
	cases := []struct {
		sel  selection.Selection
		kind uint32
	}{
		{selection.Monitor("DP-1"), SourceTypeMonitor},
		{selection.Window("0x55d1a0"), SourceTypeWindow},
	}
	for _, tc := range cases {
		b := NewBackend(&fakeQuerier{sel: tc.sel, ok: true}, time.Second)
		openSession(t, b, nil)

		code, results, _ := b.Start(reqPath, sessionPath, "", "", nil)
		if code != ResponseSuccess {
			t.Fatalf("%s: code = %d", tc.sel.Type, code)
		}
		s := streamsOf(t, results)[0]
		if got := s.Props["source_type"].Value(); got != tc.kind {
			t.Errorf("%s: source_type = %v", tc.sel.Type, got)
		}
		if got := s.Props["id"].Value(); got != tc.sel.SourceID {
			t.Errorf("%s: id = %v", tc.sel.Type, got)
		}
		if _, ok := s.Props["position"]; ok {
			t.Errorf("%s: unexpected position", tc.sel.Type)
		}
	}
}

func TestStartRegionCarriesMarker(t *testing.T) {
	region := capture.CaptureRegion{MonitorID: "DP-1", X: 100, Y: 100, Width: 400, Height: 300}
	b := NewBackend(&fakeQuerier{sel: selection.Region(region), ok: true}, time.Second)
	openSession(t, b, nil)

	code, results, _ := b.Start(reqPath, sessionPath, "", "", nil)
	if code != ResponseSuccess {
		t.Fatalf("code = %d", code)
	}
	s := streamsOf(t, results)[0]
	if got := s.Props["source_type"].Value(); got != SourceTypeMonitor {
		t.Fatalf("region must be forwarded as a monitor, got %v", got)
	}
	id, _ := s.Props["id"].Value().(string)
	got, err := marker.Parse(id)
	if err != nil {
		t.Fatalf("id %q: %v", id, err)
	}
	if got != region {
		t.Fatalf("marker decodes to %v, want %v", got, region)
	}
	if pos := s.Props["position"].Value(); pos != (Pair{100, 100}) {
		t.Errorf("position = %v", pos)
	}
	if size := s.Props["size"].Value(); size != (Pair{400, 300}) {
		t.Errorf("size = %v", size)
	}
}

func TestStreamsSignature(t *testing.T) {
	v := dbus.MakeVariant([]Stream{{Props: map[string]dbus.Variant{}}})
	if sig := v.Signature().String(); sig != "a(ua{sv})" {
		t.Fatalf("signature = %s", sig)
	}
	if sig := dbus.MakeVariant(Pair{1, 2}).Signature().String(); sig != "(ii)" {
		t.Fatalf("pair signature = %s", sig)
	}
}

func TestStartUnknownSession(t *testing.T) {
	q := &fakeQuerier{sel: selection.Monitor("DP-1"), ok: true}
	b := NewBackend(q, time.Second)
	code, _, _ := b.Start(reqPath, sessionPath, "", "", nil)
	if code != ResponseOther {
		t.Fatalf("code = %d", code)
	}
	if q.calls != 0 {
		t.Fatal("unknown session must not query the main application")
	}
}

func TestStartRespectsRequestedTypes(t *testing.T) {
	b := NewBackend(&fakeQuerier{sel: selection.Window("0x1"), ok: true}, time.Second)
	openSession(t, b, map[string]dbus.Variant{"types": dbus.MakeVariant(SourceTypeMonitor)})

	if code, _, _ := b.Start(reqPath, sessionPath, "", "", nil); code != ResponseCancelled {
		t.Fatalf("window selection for monitor-only request: code = %d", code)
	}
}

func TestSelectSourcesRecordsOptions(t *testing.T) {
	b := NewBackend(&fakeQuerier{}, time.Second)
	openSession(t, b, map[string]dbus.Variant{
		"types":         dbus.MakeVariant(SourceTypeMonitor),
		"cursor_mode":   dbus.MakeVariant(CursorModeHidden),
		"persist_mode":  dbus.MakeVariant(uint32(2)),
		"restore_token": dbus.MakeVariant("tok"),
	})

	s, ok := b.Session(sessionPath)
	if !ok {
		t.Fatal("session not tracked")
	}
	if s.SourceTypes != SourceTypeMonitor || s.CursorMode != CursorModeHidden || s.PersistMode != 2 || s.RestoreToken != "tok" {
		t.Fatalf("session = %+v", s)
	}
	if s.AppID != "org.example.App" {
		t.Fatalf("app id = %q", s.AppID)
	}
}

func TestSelectSourcesUnknownSession(t *testing.T) {
	b := NewBackend(&fakeQuerier{}, time.Second)
	if code, _, _ := b.SelectSources(reqPath, sessionPath, "", nil); code != ResponseOther {
		t.Fatalf("code = %d", code)
	}
}

func TestCloseSession(t *testing.T) {
	b := NewBackend(&fakeQuerier{}, time.Second)

	var created, closed []dbus.ObjectPath
	b.setHooks(
		func(p dbus.ObjectPath) { created = append(created, p) },
		func(p dbus.ObjectPath) { closed = append(closed, p) },
	)

	openSession(t, b, nil)
	if b.SessionCount() != 1 || len(created) != 1 {
		t.Fatalf("sessions = %d, created = %v", b.SessionCount(), created)
	}

	obj := &sessionObject{backend: b, path: sessionPath}
	if derr := obj.Close(); derr != nil {
		t.Fatalf("Close: %v", derr)
	}
	if b.SessionCount() != 0 || len(closed) != 1 || closed[0] != sessionPath {
		t.Fatalf("sessions = %d, closed = %v", b.SessionCount(), closed)
	}
	if b.CloseSession(sessionPath) {
		t.Fatal("second close should report unknown session")
	}
	if len(closed) != 1 {
		t.Fatal("close hook ran twice")
	}
}

func TestAdvertisedProperties(t *testing.T) {
	if AvailableSourceTypes != 3 || AvailableCursorModes != 2 || InterfaceVersion != 4 {
		t.Fatalf("properties = %d %d %d", AvailableSourceTypes, AvailableCursorModes, InterfaceVersion)
	}
}
