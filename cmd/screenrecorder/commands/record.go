package commands

import (
	"fmt"
	"net/http"

	"github.com/screen-recorder/screen-recorder/internal/session"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Control recording on a running recorder",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Record the current selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordRequest(http.MethodPost, "/recording/start")
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordRequest(http.MethodPost, "/recording/stop")
	},
}

var recordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recording state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordRequest(http.MethodGet, "/recording/status")
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)
	recordCmd.AddCommand(recordStatusCmd)
}

func recordRequest(method, path string) error {
	var st session.Status
	if err := newAPIClient().do(method, path, nil, &st); err != nil {
		return err
	}
	fmt.Printf("State:   %s\n", st.State)
	if st.Target != "" {
		fmt.Printf("Target:  %s\n", st.Target)
	}
	fmt.Printf("Frames:  %d\n", st.Frames)
	if st.Reason != "" {
		fmt.Printf("Reason:  %s\n", st.Reason)
	}
	return nil
}
