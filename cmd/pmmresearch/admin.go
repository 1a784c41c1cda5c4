package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/mohammad-safakhou/pmmresearch/internal/cache"
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	"github.com/spf13/cobra"
)

func promptsCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "prompts", Short: "Inspect prompt documents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available prompt documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			store := prompts.NewStore(a.promptOptions(), a.logger, a.tele)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTAGED\tDESCRIPTION")
			for _, p := range store.List() {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", p.Name, p.Staged, p.Description)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func cacheCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Manage the response cache"}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openCache(cmd.Context()); err != nil {
				return err
			}
			if err := a.cache.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	})
	return cmd
}

func migrateCMD(cfgPath *string) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres cache migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return cache.Migrate(migDir, a.cfg.Cache.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", cache.DefaultMigrationsDir, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
