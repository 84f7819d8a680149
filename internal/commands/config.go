package commands

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gaborage/twinclient/logger"
)

func newConfigCommand(rt *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := logger.NewSensitiveDataFilter(nil)
			keys := rt.cfg.Keys()
			slices.Sort(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, key := range keys {
				fmt.Fprintf(w, "%s\t%s\n", key, filter.FilterString(key, rt.cfg.GetString(key)))
			}
			return w.Flush()
		},
	}
}
