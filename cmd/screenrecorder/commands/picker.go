package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/screen-recorder/screen-recorder/internal/ipc"
	"github.com/screen-recorder/screen-recorder/internal/picker"
	"github.com/spf13/cobra"
)

var pickerCmd = &cobra.Command{
	Use:   "picker",
	Short: "Run the portal picker service in the foreground",
	Long: `Run the org.freedesktop.impl.portal.ScreenCast implementation on the
session bus. Every screencast request is answered with the selection held
by a running "screenrecorder serve"; when it is not running the request is
denied.

Normally the picker runs as its own user service (screen-recorder-picker).`,
	RunE: runPicker,
}

func init() {
	rootCmd.AddCommand(pickerCmd)
}

func runPicker(cmd *cobra.Command, args []string) error {
	cfg := configMgr.Get()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ipc.NewClient(ipc.SocketPath(cfg.RuntimeDir, cfg.AppName), cfg.IPC.QueryTimeout, cfg.IPC.DialAttempts)
	return picker.Run(ctx, picker.NewBackend(client, cfg.IPC.QueryTimeout))
}
