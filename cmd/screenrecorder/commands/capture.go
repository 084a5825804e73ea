package commands

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/capture/platform"
	"github.com/screen-recorder/screen-recorder/internal/ipc"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
	"github.com/spf13/cobra"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "One-off captures",
}

var captureSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a single frame to a BMP or TIFF file",
	Long: `Capture one frame of a monitor, window or region and write it to a file.
The format follows the file extension (.bmp, .tif or .tiff).

The command answers the portal picker itself, so it cannot run while
"screenrecorder serve" holds the picker socket.`,
	Example: `  # Whole monitor
  screenrecorder capture snapshot --monitor DP-1 -o dp1.bmp

  # 800x600 physical pixels at (200,200) of DP-1
  screenrecorder capture snapshot --monitor DP-1 --region 200,200,800,600 -o region.tiff

  # A window
  screenrecorder capture snapshot --window 0x55d1a0 -o window.bmp`,
	Args: cobra.NoArgs,
	RunE: runCaptureSnapshot,
}

var (
	snapshotMonitor string
	snapshotWindow  string
	snapshotRegion  string
	snapshotOutput  string
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureSnapshotCmd)

	f := captureSnapshotCmd.Flags()
	f.StringVar(&snapshotMonitor, "monitor", "", "monitor id")
	f.StringVar(&snapshotWindow, "window", "", "window id")
	f.StringVar(&snapshotRegion, "region", "", "X,Y,WIDTH,HEIGHT in physical pixels of --monitor")
	f.StringVarP(&snapshotOutput, "output", "o", "snapshot.bmp", "output file")
	f.DurationVar(&snapshotTimeout, "timeout", 10*time.Second, "how long to wait for the first frame")
}

// snapshotSelection builds the selection from the command's flags. A region
// must meet the minimum size; the backend clips it to the monitor.
func snapshotSelection(monitor, window, region string, limits geometry.Limits) (selection.Selection, error) {
	switch {
	case window != "" && (monitor != "" || region != ""):
		return selection.Selection{}, fmt.Errorf("--window cannot be combined with --monitor or --region")
	case window != "":
		return selection.Window(capture.WindowID(window)), nil
	case monitor == "":
		return selection.Selection{}, fmt.Errorf("one of --monitor or --window is required")
	case region == "":
		return selection.Monitor(capture.MonitorID(monitor)), nil
	}

	r := capture.CaptureRegion{MonitorID: capture.MonitorID(monitor)}
	if _, err := fmt.Sscanf(region, "%d,%d,%d,%d", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
		return selection.Selection{}, fmt.Errorf("invalid --region %q (want X,Y,WIDTH,HEIGHT)", region)
	}
	if err := geometry.CheckSize(r, limits); err != nil {
		return selection.Selection{}, err
	}
	return selection.Region(r), nil
}

func runCaptureSnapshot(cmd *cobra.Command, args []string) error {
	cfg := configMgr.Get()
	sel, err := snapshotSelection(snapshotMonitor, snapshotWindow, snapshotRegion, cfg.Limits())
	if err != nil {
		return err
	}
	encode, err := encoderFor(snapshotOutput)
	if err != nil {
		return err
	}

	store := selection.NewStore()

	ipcServer := ipc.NewServer(ipc.SocketPath(cfg.RuntimeDir, cfg.AppName), store)
	if err := ipcServer.Start(); err != nil {
		return fmt.Errorf("cannot answer the picker (is \"screenrecorder serve\" running?): %w", err)
	}
	defer ipcServer.Close()

	backend, closeBackend, err := platform.New(platformOptions(cfg), store)
	if err != nil {
		return fmt.Errorf("failed to initialize capture backend: %w", err)
	}
	defer closeBackend()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Portal.Timeout+snapshotTimeout)
	defer cancel()

	var (
		stream *capture.FrameStream
		stop   *capture.StopHandle
	)
	switch sel.Type {
	case capture.SourceWindow:
		stream, stop, err = backend.StartWindowCapture(ctx, capture.WindowID(sel.SourceID))
	case capture.SourceMonitor:
		stream, stop, err = backend.StartMonitorCapture(ctx, capture.MonitorID(sel.SourceID))
	default:
		stream, stop, err = backend.StartRegionCapture(ctx, *sel.Region)
	}
	if err != nil {
		return err
	}
	defer stop.Stop()

	frameCtx, frameCancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer frameCancel()
	frame, err := stream.Next(frameCtx)
	if err != nil {
		return fmt.Errorf("no frame received: %w", err)
	}

	out, err := os.Create(snapshotOutput)
	if err != nil {
		return err
	}
	if err := encode(out, frame.ToRGBA()); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode %s: %w", snapshotOutput, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	logger.WithComponent("capture").Info().
		Str("path", snapshotOutput).
		Int("width", frame.Width).
		Int("height", frame.Height).
		Msg("Snapshot written")
	fmt.Printf("Wrote %dx%d frame to %s\n", frame.Width, frame.Height, snapshotOutput)
	return nil
}

type imageEncoder func(w io.Writer, img image.Image) error

func encoderFor(path string) (imageEncoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		return func(w io.Writer, img image.Image) error { return bmp.Encode(w, img) }, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	}
	return nil, fmt.Errorf("unsupported output format %q (use .bmp, .tif or .tiff)", filepath.Ext(path))
}
