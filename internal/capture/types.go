package capture

import (
	"fmt"
	"image"
	"time"
)

// MonitorID identifies a monitor. The value is produced by the compositor
// enumerator and is opaque to everything else.
type MonitorID string

// WindowID identifies a window. Opaque outside the compositor enumerator.
type WindowID string

// SourceType is the kind of thing being captured.
type SourceType string

const (
	SourceWindow  SourceType = "window"
	SourceMonitor SourceType = "monitor"
	SourceRegion  SourceType = "region"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceWindow, SourceMonitor, SourceRegion:
		return true
	}
	return false
}

// MonitorInfo describes a connected monitor. Origin and size are in physical
// pixels. Values are snapshots: re-enumerate after a mode or scale change
// instead of mutating a held copy.
type MonitorInfo struct {
	ID      MonitorID `json:"id"`
	Name    string    `json:"name"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Primary bool      `json:"primary"`
	Scale   float64   `json:"scale"` // logical-to-physical ratio, >= 1.0
}

// WindowInfo describes a capturable window. A window may disappear between
// enumeration and capture start.
type WindowInfo struct {
	ID          WindowID `json:"id"`
	Title       string   `json:"title"`
	ProcessName string   `json:"process_name"`
}

// CaptureRegion is a monitor-relative rectangle in physical pixels, the same
// space as MonitorInfo.
type CaptureRegion struct {
	MonitorID MonitorID `json:"monitor_id"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// Area returns width*height, or 0 for degenerate regions.
func (r CaptureRegion) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

func (r CaptureRegion) String() string {
	return fmt.Sprintf("%s@%d,%d,%dx%d", r.MonitorID, r.X, r.Y, r.Width, r.Height)
}

// BytesPerPixel is the size of one BGRA pixel.
const BytesPerPixel = 4

// CapturedFrame is one uniform frame: tightly packed 32-bit little-endian
// BGRA, Width*4 bytes per row, no padding. Ownership passes to whoever
// receives it from a FrameStream.
type CapturedFrame struct {
	Width     int
	Height    int
	Data      []byte
	Sequence  uint64
	Timestamp time.Time
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(width, height int) *CapturedFrame {
	return &CapturedFrame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*BytesPerPixel),
	}
}

// Stride returns the row length in bytes.
func (f *CapturedFrame) Stride() int {
	return f.Width * BytesPerPixel
}

// Validate checks that the buffer length matches the declared dimensions.
func (f *CapturedFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame has empty dimensions %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Data) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d", len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// ToRGBA copies the frame into an image.RGBA for encoders from the image
// packages.
func (f *CapturedFrame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i+3 < len(f.Data) && i+3 < len(img.Pix); i += BytesPerPixel {
		img.Pix[i+0] = f.Data[i+2]
		img.Pix[i+1] = f.Data[i+1]
		img.Pix[i+2] = f.Data[i+0]
		img.Pix[i+3] = f.Data[i+3]
	}
	return img
}
