// Command screen-recorder-picker is the xdg-desktop-portal ScreenCast
// backend. It is started on demand by the portal (or as a systemd user
// unit) and answers every request with the selection of the running
// screen-recorder.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/screen-recorder/screen-recorder/internal/config"
	"github.com/screen-recorder/screen-recorder/internal/ipc"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/picker"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "screen-recorder-picker",
	Short:        "ScreenCast portal backend for screen-recorder",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/screen-recorder/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ipc.NewClient(ipc.SocketPath(cfg.RuntimeDir, cfg.AppName), cfg.IPC.QueryTimeout, cfg.IPC.DialAttempts)
	return picker.Run(ctx, picker.NewBackend(client, cfg.IPC.QueryTimeout))
}
