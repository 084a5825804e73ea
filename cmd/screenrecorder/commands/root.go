package commands

import (
	"fmt"
	"os"

	"github.com/screen-recorder/screen-recorder/internal/config"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	configMgr *config.Manager
	rootCmd   = &cobra.Command{
		Use:   "screenrecorder",
		Short: "screen-recorder - region, window and monitor capture for Wayland",
		Long: `screen-recorder captures a window, a monitor or a rectangular region of a
monitor on Wayland compositors through the xdg-desktop-portal ScreenCast
interface and PipeWire.

Features:
  • Enumerate monitors and windows via Hyprland IPC
  • Region capture cropped from the monitor stream
  • Own portal picker service that answers with the app's selection
  • Local control API and websocket event stream
  • Persistent configuration with environment overrides`,
		SilenceUsage: true,
	}
)

func init() {
	// Assigned here rather than in the literal: initConfig refers to rootCmd.
	rootCmd.PersistentPreRunE = initConfig

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/screen-recorder/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")
	rootCmd.PersistentFlags().String("runtime-dir", "", "runtime directory for the picker socket (default is $XDG_RUNTIME_DIR)")
	rootCmd.PersistentFlags().Int("control-port", 0, "control API port (default is 8787)")
}

// initConfig loads the config file and layers flags over it.
func initConfig(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v := mgr.GetViper()
	flags := rootCmd.PersistentFlags()
	v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.BindPFlag("log_pretty", flags.Lookup("pretty"))
	v.BindPFlag("runtime_dir", flags.Lookup("runtime-dir"))
	v.BindPFlag("control_port", flags.Lookup("control-port"))

	cfg := mgr.Get()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	configMgr = mgr
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
