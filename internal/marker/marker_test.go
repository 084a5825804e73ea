package marker

import (
	"testing"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

func TestEncode(t *testing.T) {
	got, err := Encode(capture.CaptureRegion{MonitorID: "DP-1", X: 100, Y: 100, Width: 400, Height: 300})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := "[SELECTION]/region:DP-1@100,100,400,300"; got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	regions := []capture.CaptureRegion{
		{MonitorID: "DP-1", X: 0, Y: 0, Width: 1, Height: 1},
		{MonitorID: "HDMI-A-1", X: 3800, Y: 2100, Width: 40, Height: 60},
		{MonitorID: "weird@name", X: 5, Y: 6, Width: 7, Height: 8},
	}
	for _, r := range regions {
		s, err := Encode(r)
		if err != nil {
			t.Fatalf("encode %v: %v", r, err)
		}
		if !IsRegionMarker(s) {
			t.Fatalf("%q not recognised", s)
		}
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got != r {
			t.Fatalf("round trip %v -> %q -> %v", r, s, got)
		}
	}
}

func TestEncodeRejects(t *testing.T) {
	for _, r := range []capture.CaptureRegion{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{MonitorID: "DP-1", X: -1, Y: 0, Width: 10, Height: 10},
		{MonitorID: "DP-1", X: 0, Y: 0, Width: 0, Height: 10},
	} {
		if _, err := Encode(r); err == nil {
			t.Errorf("Encode(%v) should fail", r)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{
		"DP-1",
		"[SELECTION]/region:",
		"[SELECTION]/region:@1,2,3,4",
		"[SELECTION]/region:DP-1",
		"[SELECTION]/region:DP-1@1,2,3",
		"[SELECTION]/region:DP-1@1,2,3,x",
		"[SELECTION]/region:DP-1@1,2,0,4",
		"[SELECTION]/region:DP-1@-1,2,3,4",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}
