// Package marker encodes a capture region into the monitor id the picker
// hands to the portal, and decodes it back. Nothing outside this package
// should build or parse the string form.
package marker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// Prefix starts every region marker.
const Prefix = "[SELECTION]/region:"

// Encode returns [SELECTION]/region:<monitor>@<x>,<y>,<w>,<h>.
func Encode(r capture.CaptureRegion) (string, error) {
	if err := check(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s@%d,%d,%d,%d", Prefix, r.MonitorID, r.X, r.Y, r.Width, r.Height), nil
}

// IsRegionMarker reports whether s looks like a region marker.
func IsRegionMarker(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Parse decodes a marker produced by Encode. Monitor names may contain '@',
// so the geometry is taken from after the last one.
func Parse(s string) (capture.CaptureRegion, error) {
	if !IsRegionMarker(s) {
		return capture.CaptureRegion{}, fmt.Errorf("marker: %q is not a region marker", s)
	}
	body := strings.TrimPrefix(s, Prefix)

	at := strings.LastIndexByte(body, '@')
	if at <= 0 {
		return capture.CaptureRegion{}, fmt.Errorf("marker: %q has no monitor", s)
	}

	fields := strings.Split(body[at+1:], ",")
	if len(fields) != 4 {
		return capture.CaptureRegion{}, fmt.Errorf("marker: %q needs 4 geometry fields, got %d", s, len(fields))
	}
	var nums [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return capture.CaptureRegion{}, fmt.Errorf("marker: field %d of %q: %w", i, s, err)
		}
		nums[i] = n
	}

	r := capture.CaptureRegion{
		MonitorID: capture.MonitorID(body[:at]),
		X:         nums[0],
		Y:         nums[1],
		Width:     nums[2],
		Height:    nums[3],
	}
	if err := check(r); err != nil {
		return capture.CaptureRegion{}, err
	}
	return r, nil
}

func check(r capture.CaptureRegion) error {
	if r.MonitorID == "" {
		return fmt.Errorf("marker: empty monitor id")
	}
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("marker: invalid geometry %s", r)
	}
	return nil
}
