package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/bookstore-proxy/config"
	"github.com/angeloszaimis/bookstore-proxy/internal/route"
	"github.com/angeloszaimis/bookstore-proxy/pkg/logger"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the resolved route table",
	Long: `Loads the configuration, resolves every route source once and prints
the table in matching order.`,
	Args: cobra.NoArgs,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), config.LogLevelWarn, false, cfg.Server.Environment)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	if a.consul != nil {
		routes, err := a.consul.Fetch(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.setRoutes(route.SourceConsul, routes); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tLOCATION\tPREFIX\tSOURCE")
	for _, r := range a.table.Routes() {
		prefix := r.Prefix
		if prefix == "" {
			prefix = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Path, r.Location, prefix, r.Source)
	}
	return w.Flush()
}
