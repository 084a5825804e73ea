package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/config"
	"github.com/screen-recorder/screen-recorder/internal/preview"
	"github.com/screen-recorder/screen-recorder/internal/session"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func TestSnapshotSelection(t *testing.T) {
	sel, err := snapshotSelection("DP-1", "", "", geometry.DefaultLimits)
	if err != nil || sel.Type != capture.SourceMonitor || sel.SourceID != "DP-1" {
		t.Fatalf("monitor = %+v, %v", sel, err)
	}

	sel, err = snapshotSelection("", "0x55d0", "", geometry.DefaultLimits)
	if err != nil || sel.Type != capture.SourceWindow {
		t.Fatalf("window = %+v, %v", sel, err)
	}

	sel, err = snapshotSelection("DP-1", "", "200,200,800,600", geometry.DefaultLimits)
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	want := capture.CaptureRegion{MonitorID: "DP-1", X: 200, Y: 200, Width: 800, Height: 600}
	if sel.Region == nil || *sel.Region != want {
		t.Fatalf("region = %v", sel.Region)
	}

	// Off-monitor offsets are left for the backend to clip.
	sel, err = snapshotSelection("DP-1", "", "-50,10,400,300", geometry.DefaultLimits)
	if err != nil || sel.Region.X != -50 {
		t.Fatalf("negative offset = %+v, %v", sel.Region, err)
	}

	for _, bad := range [][3]string{
		{"", "", ""},
		{"DP-1", "0x1", ""},
		{"DP-1", "", "1,2,3"},
		{"DP-1", "", "0,0,0,100"},
		{"DP-1", "", "3800,2100,40,60"},
	} {
		if _, err := snapshotSelection(bad[0], bad[1], bad[2], geometry.DefaultLimits); err == nil {
			t.Errorf("snapshotSelection(%q) accepted", bad)
		}
	}
}

func TestEncoderFor(t *testing.T) {
	f := capture.NewFrame(4, 3)
	for i := 0; i < len(f.Data); i += 4 {
		f.Data[i+0], f.Data[i+1], f.Data[i+2], f.Data[i+3] = 0xFF, 0x00, 0x00, 0xFF // blue
	}
	img := f.ToRGBA()

	encode, err := encoderFor("shot.BMP")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	decoded, err := bmp.Decode(&buf)
	if err != nil {
		t.Fatalf("bmp.Decode: %v", err)
	}
	r, g, b, _ := decoded.At(1, 1).RGBA()
	if r != 0 || g != 0 || b != 0xFFFF {
		t.Fatalf("pixel = %d,%d,%d, want blue", r, g, b)
	}

	encode, err = encoderFor("shot.tiff")
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	decoded, err = tiff.Decode(&buf)
	if err != nil {
		t.Fatalf("tiff.Decode: %v", err)
	}
	if decoded.Bounds().Dx() != 4 || decoded.Bounds().Dy() != 3 {
		t.Fatalf("tiff bounds = %v", decoded.Bounds())
	}

	if _, err := encoderFor("shot.png"); err == nil {
		t.Fatal("png accepted")
	}
}

func TestPrintMonitorsTable(t *testing.T) {
	var buf bytes.Buffer
	printMonitorsTable(&buf, []capture.MonitorInfo{
		{ID: "DP-1", Name: "DP-1", Width: 3840, Height: 2160, Scale: 2, Primary: true},
	})
	out := buf.String()
	for _, want := range []string{"DP-1", "3840x2160", "1920x1080", "2.00", "Yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRawSinkFactory(t *testing.T) {
	dir := t.TempDir()
	sink, err := rawSinkFactory(dir)(session.Target{Type: capture.SourceMonitor, MonitorID: "DP-1"})
	if err != nil {
		t.Fatal(err)
	}
	raw := sink.(*session.RawFileSink)
	if !strings.HasPrefix(raw.Path(), dir) || !strings.HasSuffix(raw.Path(), "-monitor.raw") {
		t.Fatalf("path = %s", raw.Path())
	}
	if err := sink.Finish(); err != nil {
		t.Fatal(err)
	}
}

func TestPlatformOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Stream.Backend = "subprocess"
	cfg.Stream.QueueDepth = 8
	opts := platformOptions(cfg)
	if opts.StreamBackend != "subprocess" || opts.QueueDepth != 8 || opts.Limits.MinWidth != 100 {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.Portal.Timeout != cfg.Portal.Timeout {
		t.Fatalf("portal timeout = %v", opts.Portal.Timeout)
	}
}

func TestRawSinkFactoryFansOut(t *testing.T) {
	live := preview.New(preview.DefaultConfig)
	sink, err := rawSinkFactory(t.TempDir(), live)(session.Target{Type: capture.SourceRegion, MonitorID: "DP-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteFrame(capture.NewFrame(4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Finish(); err != nil {
		t.Fatal(err)
	}
	if live.Stats().Frames != 1 {
		t.Fatalf("preview frames = %d", live.Stats().Frames)
	}
}
