package compositor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// OverlayTitle is the window title of the region-selection overlay.
const OverlayTitle = "screen-recorder-selection"

// OverlayRules are the window rules that keep the region-selection overlay
// floating, pinned and borderless above tiled windows.
func OverlayRules(title string) []string {
	match := "title:^(" + regexp.QuoteMeta(title) + ")$"
	return []string{
		"windowrulev2 float," + match,
		"windowrulev2 pin," + match,
		"windowrulev2 noborder," + match,
		"windowrulev2 noanim," + match,
		"windowrulev2 noshadow," + match,
	}
}

// ApplyOverlayRules installs OverlayRules in the running compositor. Outside
// a Hyprland session it does nothing and reports applied=false with no error.
func ApplyOverlayRules(ctx context.Context, title string) (bool, error) {
	log := logger.WithComponent("hyprland")

	sig, ok := SessionSignature()
	if !ok {
		log.Debug().Msg("Not a Hyprland session, overlay rules unavailable")
		return false, nil
	}
	return NewHyprlandAt(SocketPath(sig)).ApplyOverlayRules(ctx, title)
}

// ApplyOverlayRules sends the rules as one batch request.
func (h *Hyprland) ApplyOverlayRules(ctx context.Context, title string) (bool, error) {
	rules := OverlayRules(title)
	cmds := make([]string, len(rules))
	for i, r := range rules {
		cmds[i] = "keyword " + r
	}

	reply, err := h.Request(ctx, "[[BATCH]]"+strings.Join(cmds, ";"))
	if err != nil {
		return false, err
	}

	// A batch answers "ok" once per command.
	for _, line := range strings.Split(strings.TrimSpace(string(reply)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "ok" {
			return false, fmt.Errorf("hyprland rejected overlay rule: %s", line)
		}
	}

	logger.WithComponent("hyprland").Info().Str("title", title).Int("rules", len(rules)).Msg("Overlay window rules applied")
	return true, nil
}
