package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/reactive-labs/internal/config"
	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
)

func listCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available labs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			reg := labs.Default(labs.Deps{Config: cfg.Labs, PostsURL: cfg.PostsURL})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range reg.Names() {
				def, err := reg.New(name)
				if err != nil {
					return err
				}
				cmds := ""
				if c, ok := def.(scenario.Commander); ok {
					cmds = fmt.Sprint(c.Commands())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, def.Description(), cmds)
			}
			return tw.Flush()
		},
	}
}
