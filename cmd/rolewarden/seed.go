package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/rolewarden/internal/config"
	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed example grantable role configs",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoRoles = []grant.RoleConfig{
	{RoleID: "100000000000000001", RoleName: "VIP", DurationDays: 30},
	{RoleID: "100000000000000002", RoleName: "Supporter", DurationDays: 90},
	{RoleID: "100000000000000003", RoleName: "Event Access", DurationDays: 7},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := grant.NewStore(pool)

	// Check if seed has already run.
	existing, err := store.ListRoleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("checking existing role configs: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("role configs already exist, skipping seed")
		return nil
	}

	for _, rc := range demoRoles {
		if err := store.PutRoleConfig(ctx, rc); err != nil {
			return fmt.Errorf("creating role config %q: %w", rc.RoleName, err)
		}
		slog.Info("created role config", "role_id", rc.RoleID, "name", rc.RoleName, "days", rc.DurationDays)
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Role configs: %d created\n", len(demoRoles))
	fmt.Printf("\nReplace the placeholder role IDs with real guild role IDs, then:\n")
	fmt.Printf("  rolewarden serve --config configs/rolewarden.yaml\n")

	return nil
}
