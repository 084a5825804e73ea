package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/compositor"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capturable monitors or windows",
	Long: `List the monitors or windows the compositor reports.

This command talks to the compositor's IPC socket directly; it does not need
a running "screenrecorder serve".`,
}

var listMonitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List connected monitors",
	Example: `  # List monitors in table format (default)
  screenrecorder list monitors

  # List monitors in JSON format
  screenrecorder list monitors --format json`,
	Args: cobra.NoArgs,
	RunE: runListMonitors,
}

var listWindowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List capturable windows",
	Args:  cobra.NoArgs,
	RunE:  runListWindows,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.AddCommand(listMonitorsCmd)
	listCmd.AddCommand(listWindowsCmd)

	listCmd.PersistentFlags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

func runListMonitors(cmd *cobra.Command, args []string) error {
	enum, err := compositor.NewHyprland()
	if err != nil {
		return err
	}
	monitors, err := enum.ListMonitors(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list monitors: %w", err)
	}

	switch listFormat {
	case "json":
		return writeJSON(os.Stdout, monitors)
	case "table":
		return printMonitorsTable(os.Stdout, monitors)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func runListWindows(cmd *cobra.Command, args []string) error {
	enum, err := compositor.NewHyprland()
	if err != nil {
		return err
	}
	windows, err := enum.ListWindows(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	switch listFormat {
	case "json":
		return writeJSON(os.Stdout, windows)
	case "table":
		return printWindowsTable(os.Stdout, windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printMonitorsTable(out io.Writer, monitors []capture.MonitorInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tPHYSICAL\tLOGICAL\tSCALE\tORIGIN\tPRIMARY")
	fmt.Fprintln(w, "--\t----\t--------\t-------\t-----\t------\t-------")

	for _, m := range monitors {
		lw, lh := geometry.LogicalSize(m)
		primary := "No"
		if m.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%dx%d\t%.2f\t%d,%d\t%s\n",
			m.ID, m.Name, m.Width, m.Height, lw, lh, m.Scale, m.X, m.Y, primary)
	}
	return nil
}

func printWindowsTable(out io.Writer, windows []capture.WindowInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tPROCESS\tTITLE")
	fmt.Fprintln(w, "--\t-------\t-----")

	for _, win := range windows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", win.ID, win.ProcessName, win.Title)
	}
	return nil
}
