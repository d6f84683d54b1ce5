package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/UnknownOlympus/cartograph/internal/config"
	"github.com/spf13/cobra"
)

var providersJSON bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "probe every configured provider with a test address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.MustLoad()

		a, err := newApp(cfg, setupLogger(cfg.Env, os.Stderr))
		if err != nil {
			return err
		}

		statuses := a.manager.TestAllProviders(cmd.Context())
		if providersJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(statuses)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tREACHABLE\tLATENCY\tERROR")
		for _, status := range statuses {
			fmt.Fprintf(tw, "%s\t%t\t%dms\t%s\n", status.Name, status.Reachable, status.LatencyMS, status.Error)
		}

		return tw.Flush()
	},
}

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "print the statuses as JSON")
	rootCmd.AddCommand(providersCmd)
}
