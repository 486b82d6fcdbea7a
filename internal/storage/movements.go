package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/shopspring/decimal"
)

const movementColumns = `
	id, owner_id, direction, name, description, amount_cents, kind, status,
	category_id, installment_count, installments_processed, frequency,
	start_date, auto_post, pending_confirmation, created_at, updated_at`

// CreateMovement persists a new movement.
func (s *SQLiteStorage) CreateMovement(ctx context.Context, m *model.Movement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMovement(m); err != nil {
		return err
	}

	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.StartDate = period.Day(m.StartDate)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.OwnerID, string(m.Direction), m.Name, m.Description,
		model.ToCents(m.Amount), string(m.Kind), string(m.Status),
		nullableID(m.CategoryID), m.InstallmentCount, m.InstallmentsProcessed,
		string(m.Frequency), m.StartDate, m.AutoPost, m.PendingConfirmation,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to create movement: %w", err))
	}
	return nil
}

// GetMovement retrieves a movement by ID.
func (s *SQLiteStorage) GetMovement(ctx context.Context, id string) (*model.Movement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getMovementTx(ctx, s.db, id)
}

func getMovementTx(ctx context.Context, q queryable, id string) (*model.Movement, error) {
	row := q.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM movements WHERE id = ?`, id)
	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movement %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get movement: %w", err))
	}
	return m, nil
}

// ListMovements returns movements matching the filter, oldest start first.
func (s *SQLiteStorage) ListMovements(ctx context.Context, filter service.MovementFilter) ([]model.Movement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Pending != nil {
		where = append(where, "pending_confirmation = ?")
		args = append(args, boolToInt(*filter.Pending))
	}
	if filter.Unfinished {
		where = append(where, "installments_processed < installment_count")
	}
	if filter.StartedBefore != nil {
		where = append(where, "start_date <= ?")
		args = append(args, period.Day(*filter.StartedBefore))
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.CreatedAfter)
	}

	query := `SELECT ` + movementColumns + ` FROM movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query movements: %w", err))
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}
	return movements, nil
}

// UpdateMovement changes descriptive fields. Accrual counters are never
// touched here.
func (s *SQLiteStorage) UpdateMovement(ctx context.Context, id string, patch service.MovementPatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		if err := validateString(*patch.Name, "name"); err != nil {
			return err
		}
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, nullableID(*patch.CategoryID))
	}
	if patch.AutoPost != nil {
		sets = append(sets, "auto_post = ?")
		args = append(args, *patch.AutoPost)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	// #nosec G202 - column names are fixed above, values are bound
	res, err := s.db.ExecContext(ctx,
		`UPDATE movements SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return classify(fmt.Errorf("failed to update movement: %w", err))
	}
	return expectOneRow(res, "movement", id)
}

// PostInstallment advances a movement by one installment and applies the
// delta to its owner's balance in a single transaction. If the movement no
// longer matches the expected state the posting is rejected with
// common.ErrConflict and nothing changes.
func (s *SQLiteStorage) PostInstallment(ctx context.Context, p service.InstallmentPosting) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(p.MovementID, "MovementID"); err != nil {
		return err
	}
	if err := validateString(p.OwnerID, "OwnerID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE movements
			SET installments_processed = installments_processed + 1,
				pending_confirmation = 0,
				updated_at = ?
			WHERE id = ?
				AND owner_id = ?
				AND installments_processed = ?
				AND pending_confirmation = ?
				AND installments_processed < installment_count
		`, s.now(), p.MovementID, p.OwnerID, p.Expected.InstallmentsProcessed, p.Expected.PendingConfirmation)
		if err != nil {
			return classify(fmt.Errorf("failed to advance movement: %w", err))
		}
		if err := casResult(ctx, tx, res, p.MovementID); err != nil {
			return err
		}
		return adjustBalanceTx(ctx, tx, p.OwnerID, p.Delta)
	})
}

// MarkPending flags the next installment as awaiting confirmation, guarded
// by the same compare-and-set as PostInstallment.
func (s *SQLiteStorage) MarkPending(ctx context.Context, movementID string, expected service.MovementState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(movementID, "movementID"); err != nil {
		return err
	}
	if expected.PendingConfirmation {
		return fmt.Errorf("movement %s: already pending: %w", movementID, common.ErrInvalidState)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE movements
			SET pending_confirmation = 1, updated_at = ?
			WHERE id = ?
				AND installments_processed = ?
				AND pending_confirmation = 0
				AND installments_processed < installment_count
		`, s.now(), movementID, expected.InstallmentsProcessed)
		if err != nil {
			return classify(fmt.Errorf("failed to mark movement pending: %w", err))
		}
		return casResult(ctx, tx, res, movementID)
	})
}

// DeleteMovement removes a movement and applies the reversal delta to its
// owner's balance atomically. The delete only happens while the movement
// still matches expected, so a concurrent posting cannot slip between the
// caller computing the reversal and the delete.
func (s *SQLiteStorage) DeleteMovement(ctx context.Context, id string, expected service.MovementState, reversal decimal.Decimal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var ownerID string
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM movements WHERE id = ?`, id).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("movement %s: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return classify(fmt.Errorf("failed to load movement owner: %w", err))
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM movements
			WHERE id = ? AND installments_processed = ? AND pending_confirmation = ?
		`, id, expected.InstallmentsProcessed, expected.PendingConfirmation)
		if err != nil {
			return classify(fmt.Errorf("failed to delete movement: %w", err))
		}
		if err := casResult(ctx, tx, res, id); err != nil {
			return err
		}

		if reversal.IsZero() {
			return nil
		}
		return adjustBalanceTx(ctx, tx, ownerID, reversal)
	})
}

// casResult maps a zero-row guarded write to ErrNotFound or ErrConflict.
func casResult(ctx context.Context, q queryable, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM movements WHERE id = ?)`, id).Scan(&exists); err != nil {
		return classify(fmt.Errorf("failed to check movement existence: %w", err))
	}
	if !exists {
		return fmt.Errorf("movement %s: %w", id, common.ErrNotFound)
	}
	return fmt.Errorf("movement %s: %w", id, common.ErrConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(r rowScanner) (*model.Movement, error) {
	var (
		m                          model.Movement
		direction, kind, frequency string
		status, description        sql.NullString
		categoryID                 sql.NullInt64
		amountCents                int64
	)
	err := r.Scan(
		&m.ID, &m.OwnerID, &direction, &m.Name, &description, &amountCents,
		&kind, &status, &categoryID, &m.InstallmentCount, &m.InstallmentsProcessed,
		&frequency, &m.StartDate, &m.AutoPost, &m.PendingConfirmation,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Direction = model.Direction(direction)
	m.Kind = model.Kind(kind)
	m.Frequency = period.Frequency(frequency)
	m.Status = model.ExpenseStatus(status.String)
	m.Description = description.String
	m.CategoryID = categoryID.Int64
	m.Amount = model.FromCents(amountCents)
	m.StartDate = period.Day(m.StartDate)
	return &m, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
