package geometry

import (
	"errors"
	"testing"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

var dp1 = capture.MonitorInfo{
	ID:     "DP-1",
	Name:   "DP-1",
	Width:  3840,
	Height: 2160,
	Scale:  2.0,
}

func TestToPhysicalScenario(t *testing.T) {
	logical := LogicalRegion{MonitorID: "DP-1", X: 50, Y: 50, Width: 200, Height: 150}
	got, err := ToPhysicalOn(logical, dp1)
	if err != nil {
		t.Fatalf("ToPhysicalOn: %v", err)
	}
	want := capture.CaptureRegion{MonitorID: "DP-1", X: 100, Y: 100, Width: 400, Height: 300}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestToPhysicalWrongMonitor(t *testing.T) {
	_, err := ToPhysicalOn(LogicalRegion{MonitorID: "HDMI-A-1", Width: 10, Height: 10}, dp1)
	if !errors.Is(err, capture.ErrInvalidRegion) {
		t.Fatalf("expected invalid region, got %v", err)
	}
}

// Pins the rounding rule for every supported scale: each component is
// multiplied and rounded half away from zero.
func TestToPhysicalRoundingPerScale(t *testing.T) {
	r := LogicalRegion{MonitorID: "m", X: 1, Y: 3, Width: 101, Height: 77}
	tests := []struct {
		scale float64
		want  capture.CaptureRegion
	}{
		{1.0, capture.CaptureRegion{MonitorID: "m", X: 1, Y: 3, Width: 101, Height: 77}},
		{1.25, capture.CaptureRegion{MonitorID: "m", X: 1, Y: 4, Width: 126, Height: 96}},
		{1.5, capture.CaptureRegion{MonitorID: "m", X: 2, Y: 5, Width: 152, Height: 116}},
		{2.0, capture.CaptureRegion{MonitorID: "m", X: 2, Y: 6, Width: 202, Height: 154}},
	}
	for _, tt := range tests {
		if got := ToPhysical(r, tt.scale); got != tt.want {
			t.Errorf("scale %.2f: got %v, want %v", tt.scale, got, tt.want)
		}
	}
}

func TestToPhysicalIgnoresBogusScale(t *testing.T) {
	r := LogicalRegion{Width: 10, Height: 20}
	for _, s := range []float64{0, -1, 0.5} {
		if got := ToPhysical(r, s); got.Width != 10 || got.Height != 20 {
			t.Errorf("scale %v: got %v", s, got)
		}
	}
}

func TestLogicalRegionStaysInsideMonitor(t *testing.T) {
	scales := []float64{1.0, 1.25, 1.5, 2.0}
	for _, scale := range scales {
		m := capture.MonitorInfo{ID: "m", Width: 2559, Height: 1439, Scale: scale}
		lw, lh := LogicalSize(m)
		for _, r := range []LogicalRegion{
			{MonitorID: "m", X: 0, Y: 0, Width: lw, Height: lh},
			{MonitorID: "m", X: lw - 101, Y: lh - 101, Width: 101, Height: 101},
			{MonitorID: "m", X: lw / 3, Y: lh / 3, Width: lw / 3, Height: lh / 3},
		} {
			phys := ToPhysical(r, scale)
			clipped, ok := Clip(phys, m)
			if !ok {
				t.Fatalf("scale %v: %v has no overlap", scale, phys)
			}
			if clipped.X < 0 || clipped.Y < 0 || clipped.X+clipped.Width > m.Width || clipped.Y+clipped.Height > m.Height {
				t.Errorf("scale %v: %v escapes %dx%d", scale, clipped, m.Width, m.Height)
			}
		}
	}
}

func TestClipIdempotent(t *testing.T) {
	regions := []capture.CaptureRegion{
		{MonitorID: "DP-1", X: 3800, Y: 2100, Width: 200, Height: 200},
		{MonitorID: "DP-1", X: -50, Y: -10, Width: 300, Height: 300},
		{MonitorID: "DP-1", X: 100, Y: 100, Width: 400, Height: 300},
	}
	for _, r := range regions {
		once, ok := Clip(r, dp1)
		if !ok {
			t.Fatalf("%v: no overlap", r)
		}
		twice, _ := Clip(once, dp1)
		if once != twice {
			t.Errorf("clip not idempotent: %v -> %v -> %v", r, once, twice)
		}
	}
}

func TestValidateClipsWithWarning(t *testing.T) {
	r := capture.CaptureRegion{MonitorID: "DP-1", X: 3800, Y: 2100, Width: 200, Height: 200}
	res, err := Validate(r, dp1, DefaultLimits)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := capture.CaptureRegion{MonitorID: "DP-1", X: 3800, Y: 2100, Width: 40, Height: 60}
	if res.Region != want {
		t.Fatalf("region = %v, want %v", res.Region, want)
	}
	if !res.Clipped || !res.Warning {
		t.Fatalf("expected clipped with warning, got %+v", res)
	}
}

func TestValidateSmallClipNoWarning(t *testing.T) {
	r := capture.CaptureRegion{MonitorID: "DP-1", X: 3741, Y: 0, Width: 100, Height: 1000}
	res, err := Validate(r, dp1, DefaultLimits)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Clipped || res.Warning {
		t.Fatalf("expected quiet clip, got %+v", res)
	}
	if res.Region.Width != 99 {
		t.Fatalf("width = %d, want 99", res.Region.Width)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		r    capture.CaptureRegion
	}{
		{"zero width", capture.CaptureRegion{MonitorID: "DP-1", Width: 0, Height: 200}},
		{"negative height", capture.CaptureRegion{MonitorID: "DP-1", Width: 200, Height: -1}},
		{"below minimum", capture.CaptureRegion{MonitorID: "DP-1", Width: 99, Height: 200}},
		{"no overlap", capture.CaptureRegion{MonitorID: "DP-1", X: 3840, Y: 0, Width: 200, Height: 200}},
		{"wrong monitor", capture.CaptureRegion{MonitorID: "DP-2", Width: 200, Height: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.r, dp1, DefaultLimits)
			if !errors.Is(err, capture.ErrInvalidRegion) {
				t.Fatalf("expected invalid region, got %v", err)
			}
		})
	}
}

func TestFitAcceptsValidatedRegion(t *testing.T) {
	requested := capture.CaptureRegion{MonitorID: "DP-1", X: 3800, Y: 2100, Width: 200, Height: 200}
	first, err := Validate(requested, dp1, DefaultLimits)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// The 40x60 result is below the minimum; fitting it again must not
	// reject it or change it.
	again, err := Fit(first.Region, dp1, DefaultLimits)
	if err != nil {
		t.Fatalf("Fit(clipped): %v", err)
	}
	if again.Region != first.Region || again.Clipped || again.Warning {
		t.Fatalf("Fit(clipped) = %+v", again)
	}

	if _, err := Validate(first.Region, dp1, DefaultLimits); !errors.Is(err, capture.ErrInvalidRegion) {
		t.Fatalf("Validate(40x60) = %v, want minimum rejection", err)
	}
}

func TestFitClipsNegativeOffset(t *testing.T) {
	r := capture.CaptureRegion{MonitorID: "DP-1", X: -50, Y: 10, Width: 400, Height: 300}
	res, err := Fit(r, dp1, DefaultLimits)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	want := capture.CaptureRegion{MonitorID: "DP-1", X: 0, Y: 10, Width: 350, Height: 300}
	if res.Region != want || !res.Clipped || !res.Warning {
		t.Fatalf("res = %+v, want %v", res, want)
	}

	for _, bad := range []capture.CaptureRegion{
		{MonitorID: "DP-1", X: -500, Y: 0, Width: 400, Height: 300},
		{MonitorID: "DP-1", Width: 0, Height: 300},
	} {
		if _, err := Fit(bad, dp1, DefaultLimits); !errors.Is(err, capture.ErrInvalidRegion) {
			t.Errorf("Fit(%v) = %v", bad, err)
		}
	}
}

func patterned(width, height, stride int) []byte {
	buf := make([]byte, height*stride)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*stride + x*4
			buf[i] = byte(x)
			buf[i+1] = byte(y)
			buf[i+2] = byte(x + y)
			buf[i+3] = 0xff
		}
	}
	return buf
}

func TestCropBufferStridedSource(t *testing.T) {
	const w, h, stride = 16, 8, 16*4 + 12
	src := patterned(w, h, stride)
	r := capture.CaptureRegion{X: 3, Y: 2, Width: 5, Height: 4}

	out, err := CropBuffer(src, w, h, stride, r, nil)
	if err != nil {
		t.Fatalf("CropBuffer: %v", err)
	}
	if out.Width != 5 || out.Height != 4 {
		t.Fatalf("size = %dx%d", out.Width, out.Height)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			i := (y*r.Width + x) * 4
			if out.Data[i] != byte(x+3) || out.Data[i+1] != byte(y+2) {
				t.Fatalf("pixel (%d,%d) = %v", x, y, out.Data[i:i+4])
			}
		}
	}

	src[2*stride+3*4] = 0
	if out.Data[0] != 3 {
		t.Fatal("output aliases source buffer")
	}
}

func TestCropScenarioFrameSize(t *testing.T) {
	full := capture.NewFrame(dp1.Width, dp1.Height)
	r := capture.CaptureRegion{MonitorID: "DP-1", X: 100, Y: 100, Width: 400, Height: 300}
	out, err := Crop(full, r)
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if out.Width != 400 || out.Height != 300 || len(out.Data) != 400*300*4 {
		t.Fatalf("got %dx%d with %d bytes", out.Width, out.Height, len(out.Data))
	}
}

func TestCropRejectsOutOfBounds(t *testing.T) {
	f := capture.NewFrame(10, 10)
	if _, err := Crop(f, capture.CaptureRegion{X: 5, Y: 5, Width: 6, Height: 2}); err == nil {
		t.Fatal("expected error for region past the right edge")
	}
	if _, err := Crop(f, capture.CaptureRegion{Width: 0, Height: 2}); err == nil {
		t.Fatal("expected error for empty region")
	}
}

func TestCropWithConverter(t *testing.T) {
	f := capture.NewFrame(2, 1)
	copy(f.Data, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	swap := func(dst, src []byte) {
		for i := 0; i+3 < len(src); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
		}
	}
	out, err := CropBuffer(f.Data, 2, 1, 8, FullFrame(2, 1), swap)
	if err != nil {
		t.Fatalf("CropBuffer: %v", err)
	}
	want := []byte{3, 2, 1, 4, 7, 6, 5, 8}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("data = %v, want %v", out.Data, want)
		}
	}
}
