package cli

import (
	"github.com/spf13/cobra"
)

// NewStartCmd builds the start command.
func NewStartCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start streaming",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res controlResult
			if err := newAPIClient(*addr).post("/api/start", &res); err != nil {
				return err
			}
			return printResult(res)
		},
	}
}

// NewStopCmd builds the stop command.
func NewStopCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop streaming",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res controlResult
			if err := newAPIClient(*addr).post("/api/stop", &res); err != nil {
				return err
			}
			return printResult(res)
		},
	}
}
