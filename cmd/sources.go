package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	var category string
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			keys := a.registry.ListSources()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tCATEGORY\tENABLED\tRPS\tBASE URL")
			for _, key := range keys {
				src, ok := a.registry.Get(key)
				if !ok {
					continue
				}
				if category != "" && src.Category != category {
					continue
				}
				if enabledOnly && !src.Enabled {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%.2f\t%s\n",
					src.SourceKey, src.Name, src.Category, src.Enabled, src.MaxRPS, src.BaseURL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled sources")
	return cmd
}
