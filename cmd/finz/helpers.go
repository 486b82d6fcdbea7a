package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/finz/internal/accrual"
	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/config"
	"github.com/Veraticus/finz/internal/goals"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/notify"
	"github.com/Veraticus/finz/internal/projection"
	"github.com/Veraticus/finz/internal/reminders"
	"github.com/Veraticus/finz/internal/service"
	"github.com/Veraticus/finz/internal/storage"
	"github.com/Veraticus/finz/internal/sweep"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// app wires the engines every command works through.
type app struct {
	cfg       *config.Config
	store     *storage.SQLiteStorage
	clock     service.Clock
	logger    *slog.Logger
	notifier  *notify.Recorder
	movements *accrual.Engine
	goals     *goals.Engine
	projector *projection.Projector
	reminders *reminders.Reminders
	sweeper   *sweep.Sweeper
}

// openApp loads the configuration, opens and migrates the database and
// builds the engines on top of it.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	clock := service.SystemClock{}
	recorder := notify.NewRecorder(store, logger,
		notify.WithPusher(notify.LogPusher{Logger: logger}),
		notify.WithClock(clock))
	movements := accrual.NewEngine(store, recorder, clock, accrual.WithLogger(logger))
	goalEngine := goals.NewEngine(store, recorder, clock)

	return &app{
		cfg:       cfg,
		store:     store,
		clock:     clock,
		logger:    logger,
		notifier:  recorder,
		movements: movements,
		goals:     goalEngine,
		projector: projection.New(store),
		reminders: reminders.New(store, recorder,
			reminders.WithLogger(logger),
			reminders.WithLowBalanceRatio(cfg.Reminders.LowBalanceRatio)),
		sweeper: sweep.New(store, movements, goalEngine,
			sweep.WithWorkers(cfg.Sweep.Workers),
			sweep.WithLogger(logger)),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// initStorage opens the database at dbPath and applies pending migrations.
func initStorage(ctx context.Context, dbPath string) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// owner resolves the account a command acts on: --account, then the
// configured account, then the only account in the database.
func (a *app) owner(ctx context.Context) (string, error) {
	if a.cfg.Account != "" {
		if _, err := a.store.GetAccount(ctx, a.cfg.Account); err != nil {
			return "", common.NewUserError(fmt.Sprintf("account %q not found", a.cfg.Account), err)
		}
		return a.cfg.Account, nil
	}

	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	switch len(accounts) {
	case 0:
		return "", common.NewUserError("no accounts yet; create one with 'finz accounts create'", common.ErrMissingConfig)
	case 1:
		return accounts[0].ID, nil
	default:
		return "", common.NewUserError("several accounts exist; pick one with --account", common.ErrMissingConfig)
	}
}

// categoryID looks up a category by name for the owner. An empty name means
// no category.
func (a *app) categoryID(ctx context.Context, ownerID, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, nil
	}
	cat, err := a.store.GetCategoryByName(ctx, ownerID, name)
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("unknown category %q", name), err)
	}
	return cat.ID, nil
}

// categoryNames maps category ids to names for display.
func (a *app) categoryNames(ctx context.Context, ownerID string) map[int64]string {
	names := make(map[int64]string)
	cats, err := a.store.GetCategories(ctx, ownerID)
	if err != nil {
		a.logger.Warn("failed to load categories", "error", err)
		return names
	}
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names
}

// parseAmount parses a positive money amount.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return decimal.Zero, common.Validationf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, common.Validationf("amount must be positive, got %s", s)
	}
	return d, nil
}

// parseOptionalDecimal parses s, treating an empty string as zero.
func parseOptionalDecimal(s, what string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, common.Validationf("invalid %s %q", what, s)
	}
	return d, nil
}

// parseDate parses a YYYY-MM-DD date in local time, or returns fallback for
// an empty string.
func parseDate(s string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, common.Validationf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// parseMonth parses YYYY-MM, or returns fallback for an empty string.
func parseMonth(s string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	t, err := time.ParseInLocation("2006-01", s, time.Local)
	if err != nil {
		return time.Time{}, common.Validationf("invalid month %q, expected YYYY-MM", s)
	}
	return t, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func directionLabel(d model.Direction) string {
	if d == model.DirectionIncome {
		return "income"
	}
	return "expense"
}

// formatFileSize formats bytes into human-readable format.
func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatRelativeTime formats a time as relative to now.
func formatRelativeTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("Jan 2, 2006")
	}
}
