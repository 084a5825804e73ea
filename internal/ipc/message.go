// Package ipc is the local channel between the picker service (client) and
// the main application (server), which owns the selection.
//
// Wire format: one JSON object per line over a unix stream socket. A client
// may send several requests on one connection, but one is enough; the server
// keeps no state between requests. Both ends trust each other: access is
// governed only by the socket's filesystem permissions.
package ipc

import (
	"fmt"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// Message types.
const (
	TypeQuerySelection = "query_selection"
	TypeSelection      = "selection"
	TypeNoSelection    = "no_selection"
	TypeError          = "error"
)

// MaxMessageSize bounds a single line on the wire.
const MaxMessageSize = 64 * 1024

// Request is sent by the picker.
type Request struct {
	Type string `json:"type"`
}

// Geometry is a region's monitor-relative rectangle in physical pixels.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Response is sent by the main application.
type Response struct {
	Type       string             `json:"type"`
	SourceType capture.SourceType `json:"source_type,omitempty"`
	SourceID   string             `json:"source_id,omitempty"`
	Geometry   *Geometry          `json:"geometry,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// SelectionResponse encodes a stored selection.
func SelectionResponse(sel selection.Selection) Response {
	resp := Response{
		Type:       TypeSelection,
		SourceType: sel.Type,
		SourceID:   sel.SourceID,
	}
	if sel.Region != nil {
		resp.Geometry = &Geometry{
			X:      sel.Region.X,
			Y:      sel.Region.Y,
			Width:  sel.Region.Width,
			Height: sel.Region.Height,
		}
	}
	return resp
}

// NoSelectionResponse is the answer when nothing is selected.
func NoSelectionResponse() Response {
	return Response{Type: TypeNoSelection}
}

// ErrorResponse reports a malformed or unsupported request.
func ErrorResponse(format string, args ...any) Response {
	return Response{Type: TypeError, Message: fmt.Sprintf(format, args...)}
}

// Selection decodes a selection response. It reports false for
// no_selection and error responses.
func (r Response) Selection() (selection.Selection, bool, error) {
	switch r.Type {
	case TypeSelection:
	case TypeNoSelection, TypeError:
		return selection.Selection{}, false, nil
	default:
		return selection.Selection{}, false, fmt.Errorf("ipc: unexpected response type %q", r.Type)
	}

	sel := selection.Selection{Type: r.SourceType, SourceID: r.SourceID}
	if r.Geometry != nil {
		sel.Region = &capture.CaptureRegion{
			MonitorID: capture.MonitorID(r.SourceID),
			X:         r.Geometry.X,
			Y:         r.Geometry.Y,
			Width:     r.Geometry.Width,
			Height:    r.Geometry.Height,
		}
	}
	if err := sel.Validate(); err != nil {
		return selection.Selection{}, false, fmt.Errorf("ipc: bad selection: %w", err)
	}
	return sel, true, nil
}
