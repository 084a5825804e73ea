package capture

import "strings"

// ErrorKind classifies a CaptureError.
type ErrorKind int

const (
	KindNotImplemented ErrorKind = iota + 1
	KindInvalidRegion
	KindPortalDenied
	KindPortalTimeout
	KindStreamDisconnected
	KindIPCUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotImplemented:
		return "not implemented"
	case KindInvalidRegion:
		return "invalid region"
	case KindPortalDenied:
		return "portal denied"
	case KindPortalTimeout:
		return "portal timeout"
	case KindStreamDisconnected:
		return "stream disconnected"
	case KindIPCUnavailable:
		return "ipc unavailable"
	default:
		return "unknown"
	}
}

// CaptureError is the failure type of every start-capture operation and the
// terminal error of a FrameStream.
type CaptureError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	var b strings.Builder
	b.WriteString("capture: ")
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is matches any CaptureError of the same kind, so the package sentinels work
// with errors.Is regardless of reason or cause.
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotImplemented     = &CaptureError{Kind: KindNotImplemented}
	ErrInvalidRegion      = &CaptureError{Kind: KindInvalidRegion}
	ErrPortalDenied       = &CaptureError{Kind: KindPortalDenied}
	ErrPortalTimeout      = &CaptureError{Kind: KindPortalTimeout}
	ErrStreamDisconnected = &CaptureError{Kind: KindStreamDisconnected}
	ErrIPCUnavailable     = &CaptureError{Kind: KindIPCUnavailable}
)

// NewError builds a CaptureError of the given kind.
func NewError(kind ErrorKind, reason string, cause error) *CaptureError {
	return &CaptureError{Kind: kind, Reason: reason, Err: cause}
}

// EnumerationError is returned by ListWindows and ListMonitors.
type EnumerationError struct {
	Unavailable bool // compositor IPC could not be reached
	Reason      string
	Err         error
}

func (e *EnumerationError) Error() string {
	msg := "enumeration: "
	if e.Unavailable {
		msg += "compositor unavailable"
	} else {
		msg += "failed"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

func (e *EnumerationError) Is(target error) bool {
	t, ok := target.(*EnumerationError)
	return ok && t.Unavailable == e.Unavailable
}

// ErrCompositorUnavailable matches enumeration failures caused by an
// unreachable compositor socket.
var ErrCompositorUnavailable = &EnumerationError{Unavailable: true}
