package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"radius-portal/core"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the database schema",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the FreeRADIUS tables and portal migrations are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(ctx context.Context, cfg core.Config, db *pgxpool.Pool) error {
			if err := core.EnsureSchema(ctx, db); err != nil {
				return err
			}
			cmd.Println("schema ok")
			return nil
		})
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage RADIUS accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(ctx context.Context, cfg core.Config, db *pgxpool.Pool) error {
			svc := core.NewProvisioningService(core.NewPgUnitOfWork(db), cfg, cliLogger(cfg))
			items, err := svc.ListAccounts(ctx)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(map[string]any{"accounts": items})
		})
	},
}

var deleteActor string

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account and record the deletion in the audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(ctx context.Context, cfg core.Config, db *pgxpool.Pool) error {
			svc := core.NewProvisioningService(core.NewPgUnitOfWork(db), cfg, cliLogger(cfg))
			if err := svc.DeleteAccount(ctx, core.Actor(deleteActor), args[0]); err != nil {
				return err
			}
			cmd.Printf("deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaCheckCmd)

	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)

	accountsDeleteCmd.Flags().StringVar(&deleteActor, "actor", os.Getenv("USER"), "identity recorded in the audit log")
}

func withPool(ctx context.Context, fn func(ctx context.Context, cfg core.Config, db *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := core.Load()
	db, err := core.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	return fn(ctx, cfg, db)
}

// CLI logs go to stderr so YAML on stdout stays parseable.
func cliLogger(cfg core.Config) *slog.Logger {
	return core.NewLogger(os.Stderr, cfg.LogLevel)
}
