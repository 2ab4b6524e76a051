package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd builds the status command.
func NewStatusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current stream status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(*addr)

			var status struct {
				Streaming    bool   `json:"streaming"`
				Error        bool   `json:"error"`
				ErrorMessage string `json:"error_message"`
				Duration     int    `json:"duration"`
			}
			if err := client.get("/api/status", &status); err != nil {
				return err
			}

			if status.Streaming {
				fmt.Printf("streaming for %s\n", (time.Duration(status.Duration) * time.Second).String())
			} else {
				fmt.Println("not streaming")
			}
			if status.Error {
				fmt.Printf("error: %s\n", status.ErrorMessage)
			}
			return nil
		},
	}
}
