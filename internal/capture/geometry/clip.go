package geometry

import (
	"fmt"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// Limits bound what Validate accepts.
type Limits struct {
	MinWidth  int
	MinHeight int
	// WarnFraction is the share of the requested area that clipping may
	// remove before a warning is raised.
	WarnFraction float64
}

// DefaultLimits matches the product's 100x100 minimum selection.
var DefaultLimits = Limits{
	MinWidth:     100,
	MinHeight:    100,
	WarnFraction: 0.05,
}

// ClipResult is the outcome of Validate and Fit.
type ClipResult struct {
	Requested capture.CaptureRegion
	Region    capture.CaptureRegion
	Clipped   bool
	// LostFraction is the share of the requested area outside the monitor.
	LostFraction float64
	// Warning is set when LostFraction exceeds Limits.WarnFraction.
	Warning bool
}

// Clip intersects r with the monitor's physical bounds. It reports false
// when nothing of r lies on the monitor. Clip is idempotent.
func Clip(r capture.CaptureRegion, m capture.MonitorInfo) (capture.CaptureRegion, bool) {
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.X+r.Width, m.Width)
	y1 := min(r.Y+r.Height, m.Height)
	if x1 <= x0 || y1 <= y0 {
		return capture.CaptureRegion{MonitorID: r.MonitorID}, false
	}
	return capture.CaptureRegion{
		MonitorID: r.MonitorID,
		X:         x0,
		Y:         y0,
		Width:     x1 - x0,
		Height:    y1 - y0,
	}, true
}

// CheckSize rejects a requested region with no area or one below the
// minimum. It is the only place the minimum is enforced: it applies to what
// the user asked for, never to a region that was already clipped.
func CheckSize(r capture.CaptureRegion, limits Limits) error {
	if r.Width <= 0 || r.Height <= 0 {
		return capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("non-positive size %dx%d", r.Width, r.Height), nil)
	}
	if r.Width < limits.MinWidth || r.Height < limits.MinHeight {
		return capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("%dx%d is below the %dx%d minimum", r.Width, r.Height, limits.MinWidth, limits.MinHeight), nil)
	}
	return nil
}

// Validate checks a requested physical region when it is selected: the
// minimum size, then Fit. Clipping may shrink the result below the minimum.
func Validate(r capture.CaptureRegion, m capture.MonitorInfo, limits Limits) (ClipResult, error) {
	if err := CheckSize(r, limits); err != nil {
		return ClipResult{Requested: r}, err
	}
	return Fit(r, m, limits)
}

// Fit clips a region against a fresh snapshot of its monitor without
// applying the minimum, so a region Validate already clipped passes again
// unchanged. Only a region with no area or no overlap at all is rejected.
func Fit(r capture.CaptureRegion, m capture.MonitorInfo, limits Limits) (ClipResult, error) {
	res := ClipResult{Requested: r}

	if r.Width <= 0 || r.Height <= 0 {
		return res, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("non-positive size %dx%d", r.Width, r.Height), nil)
	}
	if r.MonitorID != m.ID {
		return res, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("region monitor %q does not match %q", r.MonitorID, m.ID), nil)
	}

	clipped, ok := Clip(r, m)
	if !ok {
		return res, capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("%s does not overlap %dx%d monitor", r, m.Width, m.Height), nil)
	}

	res.Region = clipped
	res.Clipped = clipped != r
	if res.Clipped {
		res.LostFraction = 1 - float64(clipped.Area())/float64(r.Area())
		res.Warning = res.LostFraction > limits.WarnFraction
	}

	if res.Warning {
		logger.WithComponent("geometry").Warn().
			Str("requested", r.String()).
			Str("clipped", clipped.String()).
			Float64("lost_fraction", res.LostFraction).
			Msg("Region clipped to monitor bounds")
	}

	return res, nil
}
