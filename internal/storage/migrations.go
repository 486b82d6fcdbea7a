package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					email TEXT,
					balance_cents INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT,
					name TEXT NOT NULL,
					icon TEXT DEFAULT '',
					is_default BOOLEAN DEFAULT 0,
					is_active BOOLEAN DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(owner_id, name)
				)`,

				`CREATE TABLE IF NOT EXISTS movements (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					direction TEXT NOT NULL CHECK (direction IN ('income', 'expense')),
					name TEXT NOT NULL,
					description TEXT DEFAULT '',
					amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
					kind TEXT NOT NULL,
					status TEXT DEFAULT '',
					category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
					installment_count INTEGER NOT NULL CHECK (installment_count >= 1),
					installments_processed INTEGER NOT NULL DEFAULT 0,
					frequency TEXT NOT NULL,
					start_date DATETIME NOT NULL,
					auto_post BOOLEAN NOT NULL DEFAULT 1,
					pending_confirmation BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK (installments_processed >= 0 AND installments_processed <= installment_count),
					CHECK (NOT (pending_confirmation = 1 AND installments_processed >= installment_count))
				)`,
				`CREATE INDEX idx_movements_owner ON movements(owner_id)`,
				`CREATE INDEX idx_movements_pending ON movements(pending_confirmation)`,

				`CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					is_read BOOLEAN DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_notifications_owner ON notifications(owner_id, created_at)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add savings goals and contribution history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS goals (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					description TEXT DEFAULT '',
					target_cents INTEGER NOT NULL CHECK (target_cents > 0),
					mode TEXT NOT NULL,
					mode_value TEXT NOT NULL DEFAULT '0',
					currency_name TEXT,
					currency_symbol TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_goals_owner ON goals(owner_id)`,

				`CREATE TABLE IF NOT EXISTS goal_contributions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					goal_id TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
					amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
					foreign_units TEXT,
					rate TEXT,
					is_auto BOOLEAN NOT NULL DEFAULT 0,
					contributed_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_goal_contributions_goal ON goal_contributions(goal_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Seed default expense categories",
		Up: func(tx *sql.Tx) error {
			for _, name := range DefaultCategories {
				if _, err := tx.Exec(`
					INSERT OR IGNORE INTO categories (owner_id, name, is_default)
					VALUES (NULL, ?, 1)
				`, name); err != nil {
					return fmt.Errorf("failed to seed category %q: %w", name, err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Add checkpoint metadata table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS checkpoint_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto BOOLEAN DEFAULT 0
				)`,
				`CREATE INDEX idx_checkpoint_metadata_created_at ON checkpoint_metadata(created_at)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Track goal achievement notices",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE goals ADD COLUMN achieved_notified_at DATETIME`,
				`UPDATE goals SET achieved_notified_at = CURRENT_TIMESTAMP
				WHERE EXISTS (
					SELECT 1 FROM notifications n
					WHERE n.owner_id = goals.owner_id
						AND n.title = 'Goal achieved'
						AND instr(n.body, '"' || goals.name || '"') > 0
				)`,
			})
		},
	},
}

// DefaultCategories are available to every account.
var DefaultCategories = []string{
	"Food",
	"Transport",
	"Housing",
	"Health",
	"Entertainment",
	"Education",
	"Services",
	"Other",
}

// Migrate applies every pending migration in order.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
