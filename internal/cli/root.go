// Package cli is the deckstream command tree: the serve daemon plus thin
// client commands talking to it over the local query surface.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the deckstream command tree.
func NewRootCmd() *cobra.Command {
	var addr string

	rootCmd := &cobra.Command{
		Use:   "deckstream",
		Short: "Supervise an RTMP streaming pipeline on a handheld device",
		Long: "deckstream supervises a GStreamer encode/mux/publish pipeline: it builds\n" +
			"the virtual audio capture graph, starts and watches the pipeline process,\n" +
			"and restarts it across sleep/wake cycles.",
	}

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8747", "query surface address")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStatusCmd(&addr))
	rootCmd.AddCommand(NewStartCmd(&addr))
	rootCmd.AddCommand(NewStopCmd(&addr))

	return rootCmd
}
