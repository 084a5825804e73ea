package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/api"
	"github.com/screen-recorder/screen-recorder/internal/capture/platform"
	"github.com/screen-recorder/screen-recorder/internal/compositor"
	"github.com/screen-recorder/screen-recorder/internal/config"
	"github.com/screen-recorder/screen-recorder/internal/ipc"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/preview"
	"github.com/screen-recorder/screen-recorder/internal/selection"
	"github.com/screen-recorder/screen-recorder/internal/session"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder",
	Long: `Run the main application: the picker IPC server that answers the portal
picker with the current selection, the recording session manager and the
local control API.

Recordings are written as raw BGRA frame files to the output directory.
While recording, http://127.0.0.1:<control-port>/api/preview shows a Motion
JPEG preview unless preview.enabled is false.`,
	Example: `  # Start with the configured control port
  screenrecorder serve

  # Start on a custom port with debug logging
  screenrecorder serve --control-port 9090 --log-level debug

  # Use the gst-launch subprocess stream backend
  SCREENREC_STREAM_BACKEND=subprocess screenrecorder serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// platformOptions maps the config onto the capture backend's options.
func platformOptions(cfg *config.Config) platform.Options {
	return platform.Options{
		Portal:        cfg.PortalOptions(),
		StreamBackend: cfg.Stream.Backend,
		QueueDepth:    cfg.Stream.QueueDepth,
		PollTimeout:   cfg.Stream.PollInterval,
		Limits:        cfg.Limits(),
	}
}

// rawSinkFactory names each recording after its start time. Frames are
// also fed to each of extra.
func rawSinkFactory(dir string, extra ...session.Sink) session.SinkFactory {
	return func(t session.Target) (session.Sink, error) {
		name := fmt.Sprintf("recording-%s-%s.raw", time.Now().Format("20060102-150405"), t.Type)
		sink, err := session.NewRawFileSink(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		logger.WithComponent("session").Info().Str("path", sink.Path()).Msg("Recording to file")
		if len(extra) == 0 {
			return sink, nil
		}
		return session.MultiSink(append([]session.Sink{sink}, extra...)...), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := selection.NewStore()

	backend, closeBackend, err := platform.New(platformOptions(cfg), store)
	if err != nil {
		return fmt.Errorf("failed to initialize capture backend: %w", err)
	}
	defer closeBackend()

	ipcServer := ipc.NewServer(ipc.SocketPath(cfg.RuntimeDir, cfg.AppName), store)
	if err := ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start picker IPC server: %w", err)
	}
	defer ipcServer.Close()

	if applied, err := compositor.ApplyOverlayRules(ctx, compositor.OverlayTitle); err != nil {
		log.Warn().Err(err).Msg("Failed to install overlay window rules")
	} else if applied {
		log.Debug().Str("title", compositor.OverlayTitle).Msg("Overlay window rules installed")
	}

	var extra []session.Sink
	var live *preview.MJPEG
	if cfg.Preview.Enabled {
		live = preview.New(preview.Config{
			FPS:     cfg.Preview.FPS,
			Quality: cfg.Preview.Quality,
			Label:   cfg.Preview.Label,
		})
		extra = append(extra, live)
	}

	mgr := session.NewManager(backend, store, rawSinkFactory(cfg.ResolvedOutputDir(), extra...), cfg.Limits())
	server := api.NewServer(mgr)
	if live != nil {
		server.SetPreview(live)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ControlPort)
	}()

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", backend.Name()).
		Str("socket", ipcServer.Path()).
		Int("control_port", cfg.ControlPort).
		Str("output_dir", cfg.ResolvedOutputDir()).
		Msg("screen-recorder is running")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	if err := mgr.Stop(); err != nil && !errors.Is(err, session.ErrNotRecording) {
		log.Warn().Err(err).Msg("Recording did not stop cleanly")
	}

	if live != nil {
		live.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
