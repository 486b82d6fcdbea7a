package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
	"github.com/shopspring/decimal"
)

const goalColumns = `
	id, owner_id, name, description, target_cents, mode, mode_value,
	currency_name, currency_symbol, created_at, updated_at`

// CreateGoal persists a goal. Contributions on the struct are ignored; they
// are only ever appended through AddContribution.
func (s *SQLiteStorage) CreateGoal(ctx context.Context, g *model.Goal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGoal(g); err != nil {
		return err
	}

	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	var currencyName, currencySymbol sql.NullString
	if g.ForeignCurrency != nil {
		currencyName = sql.NullString{String: g.ForeignCurrency.Name, Valid: true}
		currencySymbol = sql.NullString{String: g.ForeignCurrency.Symbol, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID, g.OwnerID, g.Name, g.Description, model.ToCents(g.TargetAmount),
		string(g.Mode), g.ModeValue.String(), currencyName, currencySymbol,
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to create goal: %w", err))
	}
	return nil
}

// GetGoal retrieves a goal together with its contribution history.
func (s *SQLiteStorage) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getGoalTx(ctx, s.db, id)
}

func getGoalTx(ctx context.Context, q queryable, id string) (*model.Goal, error) {
	g, err := scanGoal(q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get goal: %w", err))
	}

	g.Contributions, err = contributionsTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListGoals returns an owner's goals with their histories.
func (s *SQLiteStorage) ListGoals(ctx context.Context, ownerID string) ([]model.Goal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + goalColumns + ` FROM goals`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query goals: %w", err))
	}

	var goals []model.Goal
	for rows.Next() {
		g, scanErr := scanGoal(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan goal: %w", scanErr)
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	// The pool has a single connection, so the cursor must be released
	// before the history queries below.
	_ = rows.Close()

	for i := range goals {
		goals[i].Contributions, err = contributionsTx(ctx, s.db, goals[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return goals, nil
}

// SetGoalMode switches how a goal is funded.
func (s *SQLiteStorage) SetGoalMode(ctx context.Context, id string, mode model.ContributionMode, value decimal.Decimal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET mode = ?, mode_value = ?, updated_at = ? WHERE id = ?
	`, string(mode), value.String(), s.now(), id)
	if err != nil {
		return classify(fmt.Errorf("failed to set goal mode: %w", err))
	}
	return expectOneRow(res, "goal", id)
}

// AddContribution debits the owner and appends to the goal's history in one
// transaction. The balance and cap checks run inside the transaction so they
// see the same state the debit applies to.
func (s *SQLiteStorage) AddContribution(ctx context.Context, p service.ContributionPosting) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(p.GoalID, "GoalID"); err != nil {
		return err
	}
	if err := validateString(p.OwnerID, "OwnerID"); err != nil {
		return err
	}
	amount := p.Contribution.Amount
	if !amount.IsPositive() {
		return common.Validationf("contribution amount must be positive")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		acc, err := getAccountTx(ctx, tx, p.OwnerID)
		if err != nil {
			return err
		}
		if p.RequireFunds && acc.Balance.LessThan(amount) {
			return fmt.Errorf("balance %s below contribution %s: %w",
				model.FormatMoney(acc.Balance), model.FormatMoney(amount), common.ErrInsufficientBalance)
		}

		var progressCents int64
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount_cents), 0) FROM goal_contributions WHERE goal_id = ?
		`, p.GoalID).Scan(&progressCents)
		if err != nil {
			return classify(fmt.Errorf("failed to sum contributions: %w", err))
		}
		if p.Cap.IsPositive() && model.FromCents(progressCents).Add(amount).GreaterThan(p.Cap) {
			return fmt.Errorf("contribution %s exceeds goal target: %w",
				model.FormatMoney(amount), common.ErrInvalidState)
		}

		date := p.Contribution.Date
		if date.IsZero() {
			date = s.now()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO goal_contributions (goal_id, amount_cents, foreign_units, rate, is_auto, contributed_at)
			SELECT id, ?, ?, ?, ?, ? FROM goals WHERE id = ? AND owner_id = ?
		`, model.ToCents(amount), nullableDecimal(p.Contribution.ForeignUnits),
			nullableDecimal(p.Contribution.Rate), p.Contribution.Auto, date, p.GoalID, p.OwnerID)
		if err != nil {
			return classify(fmt.Errorf("failed to insert contribution: %w", err))
		}
		if err := expectOneRow(res, "goal", p.GoalID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE goals SET updated_at = ? WHERE id = ?`, s.now(), p.GoalID); err != nil {
			return classify(fmt.Errorf("failed to touch goal: %w", err))
		}
		if p.Seed {
			return nil
		}
		return adjustBalanceTx(ctx, tx, p.OwnerID, amount.Neg())
	})
}

// ClaimGoalAchieved marks the goal's achievement as announced. It returns
// true only for the first caller; every later call returns false.
func (s *SQLiteStorage) ClaimGoalAchieved(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET achieved_notified_at = ?
		WHERE id = ? AND achieved_notified_at IS NULL
	`, s.now(), id)
	if err != nil {
		return false, classify(fmt.Errorf("failed to claim goal achievement: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DeleteGoal removes a goal and its history. Contributions are not refunded.
func (s *SQLiteStorage) DeleteGoal(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete goal: %w", err))
	}
	return expectOneRow(res, "goal", id)
}

func contributionsTx(ctx context.Context, q queryable, goalID string) ([]model.Contribution, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, amount_cents, foreign_units, rate, is_auto, contributed_at
		FROM goal_contributions
		WHERE goal_id = ?
		ORDER BY contributed_at, id
	`, goalID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query contributions: %w", err))
	}
	defer rows.Close()

	var out []model.Contribution
	for rows.Next() {
		var (
			c           model.Contribution
			cents       int64
			units, rate sql.NullString
		)
		if err := rows.Scan(&c.ID, &cents, &units, &rate, &c.Auto, &c.Date); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.Amount = model.FromCents(cents)
		if c.ForeignUnits, err = parseNullDecimal(units); err != nil {
			return nil, err
		}
		if c.Rate, err = parseNullDecimal(rate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contributions: %w", err)
	}
	return out, nil
}

func scanGoal(r rowScanner) (*model.Goal, error) {
	var (
		g                            model.Goal
		description                  sql.NullString
		mode, modeValue              string
		currencyName, currencySymbol sql.NullString
		targetCents                  int64
	)
	err := r.Scan(&g.ID, &g.OwnerID, &g.Name, &description, &targetCents, &mode,
		&modeValue, &currencyName, &currencySymbol, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Description = description.String
	g.TargetAmount = model.FromCents(targetCents)
	g.Mode = model.ContributionMode(mode)
	if g.ModeValue, err = decimal.NewFromString(modeValue); err != nil {
		return nil, fmt.Errorf("invalid mode value %q: %w", modeValue, err)
	}
	if currencyName.Valid {
		g.ForeignCurrency = &model.Currency{Name: currencyName.String, Symbol: currencySymbol.String}
	}
	return &g, nil
}

func nullableDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func parseNullDecimal(s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s.String, err)
	}
	return d, nil
}
