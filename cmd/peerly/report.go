package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Moderation report commands",
	}

	cmd.AddCommand(newReportListCmd())
	return cmd
}

func newReportListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent reports",
		Long:  "Lists the most recent listing reports and whether each reached the moderation channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			reports, err := a.reports.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(reports) == 0 {
				fmt.Fprintln(out, "No reports")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLISTING\tREASON\tFORWARDED\tCREATED\tDETAILS")
			for _, r := range reports {
				listing := "-"
				if r.ListingID != nil {
					listing = *r.ListingID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
					r.ID, listing, r.Reason, r.Forwarded,
					r.CreatedAt.Format("2006-01-02 15:04"), truncate(r.Details, 40))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum reports to list")
	return cmd
}
