package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/peerly/internal/config"
	"github.com/zulandar/peerly/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

// connectFromConfig loads the config at configPath and opens the
// application database it names.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}

	return cfg, gormDB, nil
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the PeeRly database",
		Long:  "Creates the PeeRly database if needed, migrates all tables, seeds categories and the configured colleges.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded %s config from %s\n", cfg.Env, configPath)

	if cfg.Database.Driver != "sqlite" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	return seed(cmd, gormDB, cfg, "initialized")
}

func seed(cmd *cobra.Command, gormDB *gorm.DB, cfg *config.Config, verb string) error {
	out := cmd.OutOrStdout()
	if err := db.Seed(gormDB, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	fmt.Fprintf(out, "Seeded %d categories and %d colleges:", len(db.DefaultCategories()), len(cfg.Colleges))
	for _, c := range cfg.Colleges {
		fmt.Fprintf(out, " %s", c.Slug)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "\nPeeRly database %s successfully.\n", verb)
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the PeeRly database",
		Long: `Drops every PeeRly table (or the whole database on postgres and
mysql) and re-initializes it from config. All listings, conversations and
messages are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !skipConfirm {
		if !confirmReset(cmd, cfg.Database.Name) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if cfg.Database.Driver == "sqlite" {
		gormDB, err := db.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
		}
		if err := db.DropAll(gormDB); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped all tables in %s\n", cfg.Database.Name)
		return seed(cmd, gormDB, cfg, "reset")
	}

	adminDB, err := db.ConnectAdmin(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)
	if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	return seed(cmd, gormDB, cfg, "reset")
}

// confirmReset asks before destroying data. Without a terminal on stdin
// (and no --yes) the reset is refused.
func confirmReset(cmd *cobra.Command, dbName string) bool {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "stdin is not a terminal; pass --yes to reset non-interactively")
		return false
	}
	fmt.Fprintf(cmd.OutOrStdout(), "This will destroy all data in %q. Continue? [y/N] ", dbName)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes"
}
