package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"roverswarm/internal/dashboard"
	"roverswarm/internal/sink"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB export",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		tables := dashboard.Tables{
			Connectivity: cfg.Greptime.ConnectivityTable,
			Dispatch:     cfg.Greptime.DispatchTable,
		}
		if tables.Connectivity == "" {
			tables.Connectivity = sink.DefaultConnectivityTable
		}
		if tables.Dispatch == "" {
			tables.Dispatch = sink.DefaultDispatchTable
		}
		if err := dashboard.Render(dashboardOut, tables); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dashboards written to %s\n", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}
