// Package selection holds the user's current capture selection.
//
// There is one writer (the main application, on user confirmation) and any
// number of readers. Values are immutable and replaced whole, so readers never
// see a half-written selection and no lock is held across reads.
package selection

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// Selection is one confirmed capture target.
type Selection struct {
	Type     capture.SourceType `json:"source_type"`
	SourceID string             `json:"source_id"`
	// Region is set only for region selections; physical pixels.
	Region *capture.CaptureRegion `json:"geometry,omitempty"`
}

// Window builds a window selection.
func Window(id capture.WindowID) Selection {
	return Selection{Type: capture.SourceWindow, SourceID: string(id)}
}

// Monitor builds a monitor selection.
func Monitor(id capture.MonitorID) Selection {
	return Selection{Type: capture.SourceMonitor, SourceID: string(id)}
}

// Region builds a region selection. The source id is the owning monitor.
func Region(r capture.CaptureRegion) Selection {
	return Selection{Type: capture.SourceRegion, SourceID: string(r.MonitorID), Region: &r}
}

// Validate checks the selection is internally consistent.
func (s Selection) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	if s.SourceID == "" {
		return errors.New("empty source id")
	}
	if s.Type == capture.SourceRegion {
		if s.Region == nil {
			return errors.New("region selection without geometry")
		}
		if string(s.Region.MonitorID) != s.SourceID {
			return fmt.Errorf("region monitor %q does not match source id %q", s.Region.MonitorID, s.SourceID)
		}
		if s.Region.Width <= 0 || s.Region.Height <= 0 || s.Region.X < 0 || s.Region.Y < 0 {
			return fmt.Errorf("invalid region geometry %s", s.Region)
		}
	} else if s.Region != nil {
		return fmt.Errorf("%s selection must not carry geometry", s.Type)
	}
	return nil
}

// Store is the process-wide selection slot. The zero value is empty and
// ready to use. Construct one in main and inject it; never make it global.
type Store struct {
	current atomic.Pointer[Selection]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the current selection after validating it.
func (s *Store) Set(sel Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	if sel.Region != nil {
		r := *sel.Region
		sel.Region = &r
	}
	s.current.Store(&sel)
	return nil
}

// Get returns a copy of the current selection.
func (s *Store) Get() (Selection, bool) {
	p := s.current.Load()
	if p == nil {
		return Selection{}, false
	}
	sel := *p
	if sel.Region != nil {
		r := *sel.Region
		sel.Region = &r
	}
	return sel, true
}

// Clear withdraws the selection.
func (s *Store) Clear() {
	s.current.Store(nil)
}
