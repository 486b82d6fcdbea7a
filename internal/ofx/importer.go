package ofx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/finz/internal/accrual"
	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// importNamespace seeds the name-based UUIDs of imported movements.
var importNamespace = uuid.MustParse("6f1d3c52-8a0e-4f5b-9c1e-2b7a4d9e0f13")

// Creator stores a movement and runs its first accrual step.
type Creator interface {
	Create(ctx context.Context, in accrual.CreateInput) (*model.Movement, accrual.Action, error)
}

// ImportOptions controls an import.
type ImportOptions struct {
	// Progress is called after every entry.
	Progress func(done, total int)
	OwnerID  string
	// RequireConfirmation leaves each entry pending instead of posting it.
	RequireConfirmation bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	// Net is the signed balance change of the entries that posted.
	Net        decimal.Decimal
	Created    int
	Duplicates int
	Skipped    int
	Failed     int
}

// Importer turns statement entries into one-off movements.
type Importer struct {
	creator Creator
	logger  *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(creator Creator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{creator: creator, logger: logger}
}

// MovementID is the identifier an entry is stored under for owner. It is
// stable, so importing the same statement twice creates nothing new.
func MovementID(ownerID string, e Entry) string {
	return uuid.NewSHA1(importNamespace, []byte(ownerID+"/"+e.AccountID+"/"+e.FITID)).String()
}

// Input builds the movement for an entry.
func Input(ownerID string, e Entry, requireConfirmation bool) accrual.CreateInput {
	desc := "Imported " + e.Type
	if e.Memo != "" && e.Memo != e.Name {
		desc += ": " + e.Memo
	}
	if e.CheckNumber != "" {
		desc += " (check " + e.CheckNumber + ")"
	}
	return accrual.CreateInput{
		ID:               MovementID(ownerID, e),
		OwnerID:          ownerID,
		Name:             e.Name,
		Description:      strings.TrimSpace(desc),
		Direction:        e.Direction(),
		Kind:             model.KindOneOff,
		Frequency:        string(period.Monthly),
		Amount:           e.Amount.Abs(),
		InstallmentCount: 1,
		StartDate:        e.Date,
		AutoPost:         !requireConfirmation,
	}
}

// Import creates a movement per entry. Entries already imported are counted
// as duplicates; zero-amount and unnamed entries are skipped. A failing entry
// is logged and does not stop the rest.
func (im *Importer) Import(ctx context.Context, entries []Entry, opts ImportOptions) (ImportResult, error) {
	result := ImportResult{Net: decimal.Zero}
	if strings.TrimSpace(opts.OwnerID) == "" {
		return result, common.Validationf("owner is required")
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		im.importOne(ctx, e, opts, &result)
		if opts.Progress != nil {
			opts.Progress(i+1, len(entries))
		}
	}

	im.logger.Info("import complete",
		"owner", opts.OwnerID,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped,
		"failed", result.Failed)
	if result.Failed > 0 && result.Created == 0 && result.Duplicates == 0 {
		return result, fmt.Errorf("all %d entries failed to import", result.Failed)
	}
	return result, nil
}

func (im *Importer) importOne(ctx context.Context, e Entry, opts ImportOptions, result *ImportResult) {
	if e.Amount.IsZero() || strings.TrimSpace(e.Name) == "" || e.Date.IsZero() {
		result.Skipped++
		return
	}

	m, action, err := im.creator.Create(ctx, Input(opts.OwnerID, e, opts.RequireConfirmation))
	switch {
	case errors.Is(err, common.ErrDuplicateEntry):
		result.Duplicates++
	case err != nil:
		im.logger.Warn("failed to import entry", "fitid", e.FITID, "error", err)
		result.Failed++
	default:
		result.Created++
		if action.Kind == accrual.PostAutomatic {
			result.Net = result.Net.Add(m.Signed(action.Amount))
		}
	}
}
