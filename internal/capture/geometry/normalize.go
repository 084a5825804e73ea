// Package geometry converts selection geometry between coordinate spaces,
// validates and clips regions against monitor bounds, and crops frames.
//
// Two types keep the spaces apart: LogicalRegion is what a UI layer reports,
// capture.CaptureRegion is always physical. ToPhysical is the only way from
// one to the other, so the scale factor cannot be applied twice.
package geometry

import (
	"fmt"
	"math"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// LogicalRegion is a monitor-relative rectangle in logical (UI) pixels.
type LogicalRegion struct {
	MonitorID capture.MonitorID `json:"monitor_id"`
	X         int               `json:"x"`
	Y         int               `json:"y"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
}

// ToPhysical multiplies every component by scale and rounds to the nearest
// integer (half away from zero). Scales below 1 are treated as 1.
func ToPhysical(r LogicalRegion, scale float64) capture.CaptureRegion {
	if scale < 1 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	return capture.CaptureRegion{
		MonitorID: r.MonitorID,
		X:         scaleInt(r.X, scale),
		Y:         scaleInt(r.Y, scale),
		Width:     scaleInt(r.Width, scale),
		Height:    scaleInt(r.Height, scale),
	}
}

// ToPhysicalOn converts r using the scale of the monitor it belongs to.
func ToPhysicalOn(r LogicalRegion, m capture.MonitorInfo) (capture.CaptureRegion, error) {
	if r.MonitorID != m.ID {
		return capture.CaptureRegion{}, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("region is on monitor %q, not %q", r.MonitorID, m.ID), nil)
	}
	return ToPhysical(r, m.Scale), nil
}

// LogicalSize returns the monitor's size in logical pixels.
func LogicalSize(m capture.MonitorInfo) (width, height int) {
	scale := m.Scale
	if scale < 1 {
		scale = 1
	}
	return int(math.Round(float64(m.Width) / scale)), int(math.Round(float64(m.Height) / scale))
}

func scaleInt(v int, scale float64) int {
	return int(math.Round(float64(v) * scale))
}
