package compositor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// SignatureEnv is set by Hyprland for every client in its session.
const SignatureEnv = "HYPRLAND_INSTANCE_SIGNATURE"

const (
	hyprSocketName     = ".socket.sock"
	defaultIPCTimeout  = 2 * time.Second
	maxHyprReplyLength = 8 << 20
)

// hyprMonitor is the subset of `hyprctl -j monitors` we rely on.
type hyprMonitor struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Scale       float64 `json:"scale"`
	Transform   int     `json:"transform"`
	Focused     bool    `json:"focused"`
	Disabled    bool    `json:"disabled"`
}

// hyprClient is the subset of `hyprctl -j clients` we rely on.
type hyprClient struct {
	Address   string `json:"address"`
	Mapped    bool   `json:"mapped"`
	Hidden    bool   `json:"hidden"`
	Title     string `json:"title"`
	Class     string `json:"class"`
	PID       int    `json:"pid"`
	Workspace struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"workspace"`
	Monitor int `json:"monitor"`
}

// Hyprland enumerates monitors and windows through Hyprland's request socket.
type Hyprland struct {
	socketPath string
	timeout    time.Duration

	// processName resolves a PID to a process name; replaced in tests.
	processName func(pid int) string
}

// SessionSignature returns the Hyprland instance signature of the current
// session, if any. Absence means "not Hyprland", not an error.
func SessionSignature() (string, bool) {
	sig := strings.TrimSpace(os.Getenv(SignatureEnv))
	return sig, sig != ""
}

// SocketPath resolves the request socket for an instance signature. Newer
// Hyprland releases use $XDG_RUNTIME_DIR/hypr, older ones /tmp/hypr.
func SocketPath(signature string) string {
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		p := filepath.Join(runtime, "hypr", signature, hyprSocketName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join("/tmp", "hypr", signature, hyprSocketName)
}

// NewHyprland connects to the Hyprland instance of the current session.
func NewHyprland() (*Hyprland, error) {
	sig, ok := SessionSignature()
	if !ok {
		return nil, &capture.EnumerationError{
			Unavailable: true,
			Reason:      SignatureEnv + " is not set (not a Hyprland session)",
		}
	}
	return NewHyprlandAt(SocketPath(sig)), nil
}

// NewHyprlandAt talks to the request socket at an explicit path.
func NewHyprlandAt(socketPath string) *Hyprland {
	return &Hyprland{
		socketPath:  socketPath,
		timeout:     defaultIPCTimeout,
		processName: procComm,
	}
}

// Name returns the backend name
func (h *Hyprland) Name() string {
	return "hyprland"
}

// Request sends one command and returns the raw reply.
func (h *Hyprland) Request(ctx context.Context, command string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", h.socketPath)
	if err != nil {
		return nil, &capture.EnumerationError{Unavailable: true, Reason: h.socketPath, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, command); err != nil {
		return nil, &capture.EnumerationError{Unavailable: true, Reason: "write request", Err: err}
	}

	reply, err := io.ReadAll(io.LimitReader(conn, maxHyprReplyLength))
	if err != nil {
		return nil, &capture.EnumerationError{Reason: "read reply", Err: err}
	}
	return reply, nil
}

func (h *Hyprland) requestJSON(ctx context.Context, what string, v any) error {
	reply, err := h.Request(ctx, "j/"+what)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, v); err != nil {
		return &capture.EnumerationError{Reason: "decode " + what, Err: err}
	}
	return nil
}

// ListMonitors returns the enabled monitors, ordered by Hyprland id.
func (h *Hyprland) ListMonitors(ctx context.Context) ([]capture.MonitorInfo, error) {
	var raw []hyprMonitor
	if err := h.requestJSON(ctx, "monitors", &raw); err != nil {
		return nil, err
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].ID < raw[j].ID })

	monitors := make([]capture.MonitorInfo, 0, len(raw))
	primarySet := false
	for _, m := range raw {
		if m.Disabled {
			continue
		}
		info := toMonitorInfo(m)
		if info.X == 0 && info.Y == 0 && !primarySet {
			info.Primary = true
			primarySet = true
		}
		monitors = append(monitors, info)
	}
	if !primarySet && len(monitors) > 0 {
		monitors[0].Primary = true
	}
	return monitors, nil
}

// Monitor returns a fresh snapshot of the named monitor.
func (h *Hyprland) Monitor(ctx context.Context, id capture.MonitorID) (capture.MonitorInfo, error) {
	monitors, err := h.ListMonitors(ctx)
	if err != nil {
		return capture.MonitorInfo{}, err
	}
	for _, m := range monitors {
		if m.ID == id {
			return m, nil
		}
	}
	return capture.MonitorInfo{}, &capture.EnumerationError{Reason: fmt.Sprintf("monitor %q not found", id)}
}

// toMonitorInfo maps a Hyprland monitor to the contract type. Hyprland
// reports the mode size in physical pixels but before rotation, and the
// layout position in logical pixels.
func toMonitorInfo(m hyprMonitor) capture.MonitorInfo {
	scale := m.Scale
	if scale < 1 {
		scale = 1
	}
	width, height := m.Width, m.Height
	if m.Transform%2 == 1 {
		width, height = height, width
	}
	return capture.MonitorInfo{
		ID:     capture.MonitorID(m.Name),
		Name:   monitorLabel(m),
		X:      int(float64(m.X)*scale + 0.5),
		Y:      int(float64(m.Y)*scale + 0.5),
		Width:  width,
		Height: height,
		Scale:  scale,
	}
}

func monitorLabel(m hyprMonitor) string {
	if m.Description == "" {
		return m.Name
	}
	return m.Name + " (" + m.Description + ")"
}

// ListWindows returns mapped, visible windows. Hidden windows and those on
// special (scratchpad) workspaces are skipped.
func (h *Hyprland) ListWindows(ctx context.Context) ([]capture.WindowInfo, error) {
	log := logger.WithComponent("hyprland")

	var raw []hyprClient
	if err := h.requestJSON(ctx, "clients", &raw); err != nil {
		return nil, err
	}

	windows := make([]capture.WindowInfo, 0, len(raw))
	for _, c := range raw {
		if !c.Mapped || c.Hidden || c.Workspace.ID < 0 {
			log.Debug().Str("address", c.Address).Str("class", c.Class).Msg("Skipping hidden/special window")
			continue
		}
		if c.Title == "" && c.Class == "" {
			continue
		}
		name := h.processName(c.PID)
		if name == "" {
			name = c.Class
		}
		windows = append(windows, capture.WindowInfo{
			ID:          capture.WindowID(c.Address),
			Title:       c.Title,
			ProcessName: name,
		})
	}
	return windows, nil
}

// procComm reads the short process name from procfs.
func procComm(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsUnavailable reports whether err means the compositor could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, capture.ErrCompositorUnavailable)
}
