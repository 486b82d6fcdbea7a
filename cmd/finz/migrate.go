package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/config"
	"github.com/Veraticus/finz/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on startup; run this to see the schema status or to
upgrade explicitly. Upgrading an existing database takes an automatic
checkpoint first.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.Database.Path

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if status {
		state := cli.SuccessStyle.Render("up to date")
		if current < storage.ExpectedSchemaVersion {
			state = cli.WarningStyle.Render(fmt.Sprintf("%d pending", storage.ExpectedSchemaVersion-current))
		}
		fmt.Fprintf(out, "Database:  %s\nVersion:   %d of %d (%s)\n", dbPath, current, storage.ExpectedSchemaVersion, state)
		return nil
	}

	if current >= storage.ExpectedSchemaVersion {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database already at version %d", current)))
		return nil
	}

	slog.Info("Running database migrations", "database", dbPath, "from", current, "to", storage.ExpectedSchemaVersion)

	if current > 0 && dbPath != config.MemoryDatabase {
		manager, err := store.NewCheckpointManager()
		if err != nil {
			return fmt.Errorf("failed to create checkpoint manager: %w", err)
		}
		info, err := manager.AutoCheckpoint(ctx, "migrate")
		if err != nil {
			return fmt.Errorf("failed to checkpoint before migrating: %w", err)
		}
		fmt.Fprintf(out, "%s Saved checkpoint %s\n", cli.FolderIcon, cli.InfoStyle.Render(info.ID))
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database migrated to version %d", storage.ExpectedSchemaVersion)))
	return nil
}
