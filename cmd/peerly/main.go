package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfig = "peerly.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peerly",
		Short: "PeeRly campus marketplace server",
		Long:  "PeeRly runs the campus marketplace API: listings, buyer/seller messaging and realtime updates.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newListingCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newMaintenanceCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "peerly %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
