package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
)

const categoryColumns = `id, owner_id, name, icon, is_default, is_active, created_at`

// GetCategories returns the active default categories plus the owner's own,
// ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context, ownerID string) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE is_active = 1 AND (owner_id IS NULL OR owner_id = ?)
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query categories: %w", err))
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "owner", ownerID, "count", len(categories))
	return categories, nil
}

// GetCategoryByName looks up a category visible to the owner. An owner's own
// category shadows a default of the same name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, ownerID, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	cat, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE name = ? COLLATE NOCASE AND is_active = 1 AND (owner_id IS NULL OR owner_id = ?)
		ORDER BY is_default
		LIMIT 1`, strings.TrimSpace(name), ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query category: %w", err))
	}
	return cat, nil
}

// CreateCategory adds an owner-specific category.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, cat *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if cat == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if err := validateString(cat.Name, "name"); err != nil {
		return err
	}
	if err := validateString(cat.OwnerID, "ownerID"); err != nil {
		return err
	}

	if existing, err := s.GetCategoryByName(ctx, cat.OwnerID, cat.Name); err == nil {
		return fmt.Errorf("category %q already exists (id %d): %w", existing.Name, existing.ID, common.ErrDuplicateEntry)
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	cat.Name = strings.TrimSpace(cat.Name)
	cat.CreatedAt = s.now()
	cat.IsActive = true
	cat.Default = false

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (owner_id, name, icon, is_default, is_active, created_at)
		VALUES (?, ?, ?, 0, 1, ?)
	`, cat.OwnerID, cat.Name, cat.Icon, cat.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create category: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get category ID: %w", err)
	}
	cat.ID = id

	slog.Info("created category", "name", cat.Name, "id", cat.ID, "owner", cat.OwnerID)
	return nil
}

// GetCategoryTotals sums the full amount of the owner's expenses per
// category, largest first. Uncategorized expenses are not included.
func (s *SQLiteStorage) GetCategoryTotals(ctx context.Context, ownerID string) ([]service.CategoryTotal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.name, c.icon, c.is_default, c.is_active, c.created_at,
			SUM(m.amount_cents), COUNT(m.id)
		FROM movements m
		JOIN categories c ON c.id = m.category_id
		WHERE m.owner_id = ? AND m.direction = 'expense'
		GROUP BY c.id
		ORDER BY SUM(m.amount_cents) DESC, c.name`, ownerID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query category totals: %w", err))
	}
	defer rows.Close()

	var totals []service.CategoryTotal
	for rows.Next() {
		var (
			t     service.CategoryTotal
			owner sql.NullString
			icon  sql.NullString
			cents int64
		)
		if err := rows.Scan(&t.Category.ID, &owner, &t.Category.Name, &icon,
			&t.Category.Default, &t.Category.IsActive, &t.Category.CreatedAt, &cents, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category total: %w", err)
		}
		t.Category.OwnerID = owner.String
		t.Category.Icon = icon.String
		t.Total = model.FromCents(cents)
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category totals: %w", err)
	}
	return totals, nil
}

func scanCategory(r rowScanner) (*model.Category, error) {
	var (
		cat   model.Category
		owner sql.NullString
		icon  sql.NullString
	)
	if err := r.Scan(&cat.ID, &owner, &cat.Name, &icon, &cat.Default, &cat.IsActive, &cat.CreatedAt); err != nil {
		return nil, err
	}
	cat.OwnerID = owner.String
	cat.Icon = icon.String
	return &cat, nil
}
