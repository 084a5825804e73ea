package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/screen-recorder/screen-recorder/internal/api"
	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/spf13/cobra"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Set the capture selection of a running recorder",
	Long: `Set, show or clear the selection held by "screenrecorder serve". The
portal picker answers the next screencast request with it.`,
}

var selectMonitorCmd = &cobra.Command{
	Use:   "monitor ID",
	Short: "Select a whole monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return putSelection(api.SelectionRequest{SourceType: capture.SourceMonitor, SourceID: args[0]})
	},
}

var selectWindowCmd = &cobra.Command{
	Use:   "window ID",
	Short: "Select a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return putSelection(api.SelectionRequest{SourceType: capture.SourceWindow, SourceID: args[0]})
	},
}

var selectRegionCmd = &cobra.Command{
	Use:   "region MONITOR X Y WIDTH HEIGHT",
	Short: "Select a rectangle of a monitor",
	Long: `Select a rectangle of a monitor. Coordinates are relative to the monitor's
top-left corner, in logical pixels by default or physical pixels with
--physical.`,
	Example: `  # 400x300 logical pixels at (100,100) on DP-1
  screenrecorder select region DP-1 100 100 400 300

  # The same area on a scale-2 monitor, in physical pixels
  screenrecorder select region DP-1 200 200 800 600 --physical`,
	Args: cobra.ExactArgs(5),
	RunE: runSelectRegion,
}

var selectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sel map[string]any
		if err := newAPIClient().do(http.MethodGet, "/selection", nil, &sel); err != nil {
			return err
		}
		return writeJSON(os.Stdout, sel)
	},
}

var selectClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Withdraw the current selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient().do(http.MethodDelete, "/selection", nil, nil); err != nil {
			return err
		}
		fmt.Println("Selection cleared")
		return nil
	},
}

var selectPhysical bool

func init() {
	rootCmd.AddCommand(selectCmd)
	selectCmd.AddCommand(selectMonitorCmd)
	selectCmd.AddCommand(selectWindowCmd)
	selectCmd.AddCommand(selectRegionCmd)
	selectCmd.AddCommand(selectShowCmd)
	selectCmd.AddCommand(selectClearCmd)

	selectRegionCmd.Flags().BoolVar(&selectPhysical, "physical", false, "coordinates are physical pixels")
}

func runSelectRegion(cmd *cobra.Command, args []string) error {
	var nums [4]int
	for i, a := range args[1:] {
		if _, err := fmt.Sscanf(a, "%d", &nums[i]); err != nil {
			return fmt.Errorf("invalid number: %s", a)
		}
	}
	monitor := capture.MonitorID(args[0])

	req := api.SelectionRequest{SourceType: capture.SourceRegion, SourceID: args[0]}
	if selectPhysical {
		req.Geometry = &capture.CaptureRegion{MonitorID: monitor, X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
	} else {
		req.Logical = &geometry.LogicalRegion{MonitorID: monitor, X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
	}
	return putSelection(req)
}

func putSelection(req api.SelectionRequest) error {
	var resp api.SelectionResponse
	if err := newAPIClient().do(http.MethodPut, "/selection", req, &resp); err != nil {
		return err
	}
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", resp.Warning)
	}
	sel := resp.Selection
	if sel.Region != nil {
		fmt.Printf("Selected region %s\n", sel.Region)
	} else {
		fmt.Printf("Selected %s %s\n", sel.Type, sel.SourceID)
	}
	return nil
}
