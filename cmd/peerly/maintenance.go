package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/maintenance"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Data maintenance commands",
	}

	cmd.AddCommand(newRepairRecencyCmd())
	cmd.AddCommand(newDigestCmd())
	return cmd
}

func newRepairRecencyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "repair-recency",
		Short: "Fix conversation recency now",
		Long: `Moves each conversation's updated_at up to its newest message when it
has fallen behind. The server runs this on the maintenance.recency_repair
schedule; this runs it once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := maintenance.NewRepairer(maintenance.RepairerOpts{
				DB:        a.db,
				Publisher: a.broker,
				Logger:    logging.Component(a.log, "maintenance"),
			})
			if err != nil {
				return err
			}
			n, err := r.RepairRecency(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d conversations\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	return cmd
}

func newDigestCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Post the daily activity digest now",
		Long:  "Summarizes the last 24 hours of marketplace activity to the moderation channel. Quiet days are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if a.notifier == nil {
				return errors.New("moderation.provider is not configured")
			}
			g, err := maintenance.NewDigester(maintenance.DigesterOpts{
				DB:       a.db,
				Notifier: a.notifier,
				Logger:   logging.Component(a.log, "maintenance"),
			})
			if err != nil {
				return err
			}
			sent, err := g.Post(cmd.Context())
			if err != nil {
				return err
			}
			if !sent {
				fmt.Fprintln(cmd.OutOrStdout(), "No activity in the last 24 hours; digest skipped")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Digest posted")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	return cmd
}
