package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxAutoCheckpoints is how many automatic checkpoints are retained.
const maxAutoCheckpoints = 5

// CheckpointManager snapshots the ledger database next to its file.
type CheckpointManager struct {
	db             *sql.DB
	now            func() time.Time
	dbPath         string
	checkpointsDir string
}

// CheckpointInfo describes one snapshot.
type CheckpointInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// Checkpoint errors.
var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
	ErrInMemoryDatabase   = errors.New("in-memory databases cannot be checkpointed")
)

// checkpointTables are counted into each snapshot's metadata.
var checkpointTables = []string{"accounts", "movements", "goals", "goal_contributions", "notifications", "categories"}

// NewCheckpointManager creates a manager storing snapshots in a
// "checkpoints" directory beside dbPath.
func NewCheckpointManager(db *sql.DB, dbPath string) (*CheckpointManager, error) {
	if dbPath == ":memory:" {
		return nil, ErrInMemoryDatabase
	}
	checkpointsDir := filepath.Join(filepath.Dir(dbPath), "checkpoints")
	if err := os.MkdirAll(checkpointsDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &CheckpointManager{
		db:             db,
		now:            time.Now,
		dbPath:         dbPath,
		checkpointsDir: checkpointsDir,
	}, nil
}

// Create writes a consistent snapshot of the database under tag.
func (cm *CheckpointManager) Create(ctx context.Context, tag, description string) (*CheckpointInfo, error) {
	return cm.create(ctx, tag, description, false)
}

func (cm *CheckpointManager) create(ctx context.Context, tag, description string, auto bool) (*CheckpointInfo, error) {
	if tag == "" {
		tag = "checkpoint-" + cm.now().Format("2006-01-02-150405")
	}
	if strings.ContainsAny(tag, `/\'`) || strings.Contains(tag, "..") {
		return nil, fmt.Errorf("invalid checkpoint tag %q", tag)
	}

	path := cm.snapshotPath(tag)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", tag, ErrCheckpointExists)
	}

	info := CheckpointInfo{
		ID:          tag,
		CreatedAt:   cm.now(),
		Description: description,
		IsAuto:      auto,
		RowCounts:   make(map[string]int, len(checkpointTables)),
	}
	if err := cm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&info.SchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	for _, table := range checkpointTables {
		var n int
		// #nosec G202 - table names come from the fixed list above
		if err := cm.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			// Tables may not exist yet on a fresh database.
			continue
		}
		info.RowCounts[table] = n
	}

	// VACUUM INTO produces a transactionally consistent copy.
	if _, err := cm.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	info.FileSize = st.Size()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(cm.metadataPath(tag), data, 0600); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Error("failed to remove checkpoint after metadata failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	counts, _ := json.Marshal(info.RowCounts)
	if _, err := cm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoint_metadata
			(id, created_at, description, file_size, row_counts, schema_version, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.CreatedAt, info.Description, info.FileSize, string(counts), info.SchemaVersion, info.IsAuto); err != nil {
		// The snapshot on disk is still usable.
		slog.Warn("failed to record checkpoint metadata", "error", err)
	}

	return &info, nil
}

// List returns every checkpoint, newest first.
func (cm *CheckpointManager) List(_ context.Context) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(cm.checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var out []CheckpointInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		// #nosec G304 - path is built from a directory listing we own
		data, err := os.ReadFile(filepath.Join(cm.checkpointsDir, entry.Name()))
		if err != nil {
			continue
		}
		var info CheckpointInfo
		if err := json.Unmarshal(data, &info); err != nil {
			slog.Warn("skipping corrupted checkpoint metadata", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a checkpoint and its metadata.
func (cm *CheckpointManager) Delete(ctx context.Context, tag string) error {
	path := cm.snapshotPath(tag)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", tag, ErrCheckpointNotFound)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	if err := os.Remove(cm.metadataPath(tag)); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove checkpoint metadata", "id", tag, "error", err)
	}
	if _, err := cm.db.ExecContext(ctx, `DELETE FROM checkpoint_metadata WHERE id = ?`, tag); err != nil {
		slog.Warn("failed to forget checkpoint metadata", "id", tag, "error", err)
	}
	return nil
}

// AutoCheckpoint takes an automatic snapshot before a risky operation and
// prunes old automatic snapshots.
func (cm *CheckpointManager) AutoCheckpoint(ctx context.Context, prefix string) (*CheckpointInfo, error) {
	tag := fmt.Sprintf("auto-%s-%s", prefix, cm.now().Format("20060102-150405"))
	info, err := cm.create(ctx, tag, "automatic checkpoint before "+prefix, true)
	if err != nil {
		return nil, err
	}

	all, err := cm.List(ctx)
	if err != nil {
		return info, nil //nolint:nilerr // pruning is best effort
	}
	kept := 0
	for _, c := range all {
		if !c.IsAuto {
			continue
		}
		kept++
		if kept > maxAutoCheckpoints {
			if err := cm.Delete(ctx, c.ID); err != nil {
				slog.Warn("failed to prune auto checkpoint", "id", c.ID, "error", err)
			}
		}
	}
	return info, nil
}

func (cm *CheckpointManager) snapshotPath(tag string) string {
	return filepath.Join(cm.checkpointsDir, tag+".db")
}

func (cm *CheckpointManager) metadataPath(tag string) string {
	return filepath.Join(cm.checkpointsDir, tag+".meta.json")
}
