package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "labs",
		Short: "Timed scenarios for promises, observables and subjects",
		Long: `labs runs small timed scenarios that demonstrate asynchronous patterns:
delays, races, retries, intervals, cancellation, subjects and debounced search.

Run one lab in the terminal, or serve every lab over HTTP with a websocket
stream of log changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		listCmd(opts),
		runCmd(opts),
		serveCmd(opts),
	)
	return root
}
