package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/shopspring/decimal"
)

// CreateAccount inserts a new account with its opening balance.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if err := validateString(account.ID, "account.ID"); err != nil {
		return err
	}
	if err := validateString(account.Name, "account.Name"); err != nil {
		return err
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, balance_cents, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, account.ID, account.Name, account.Email, model.ToCents(account.Balance), account.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create account: %w", err))
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getAccountTx(ctx, s.db, id)
}

func getAccountTx(ctx context.Context, q queryable, id string) (*model.Account, error) {
	var (
		acc   model.Account
		email sql.NullString
		cents int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, email, balance_cents, created_at
		FROM accounts
		WHERE id = ?
	`, id).Scan(&acc.ID, &acc.Name, &email, &cents, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get account: %w", err))
	}
	acc.Email = email.String
	acc.Balance = model.FromCents(cents)
	return &acc, nil
}

// ListAccounts returns every account ordered by creation.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, balance_cents, created_at
		FROM accounts
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query accounts: %w", err))
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var (
			acc   model.Account
			email sql.NullString
			cents int64
		)
		if err := rows.Scan(&acc.ID, &acc.Name, &email, &cents, &acc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		acc.Email = email.String
		acc.Balance = model.FromCents(cents)
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// AdjustBalance applies a signed delta to an account balance. The update is
// an increment in SQL, never a read-modify-write, so concurrent deltas
// compose.
func (s *SQLiteStorage) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}
	return adjustBalanceTx(ctx, s.db, accountID, delta)
}

func adjustBalanceTx(ctx context.Context, q queryable, accountID string, delta decimal.Decimal) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?
	`, model.ToCents(delta), accountID)
	if err != nil {
		return classify(fmt.Errorf("failed to adjust balance: %w", err))
	}
	return expectOneRow(res, "account", accountID)
}
