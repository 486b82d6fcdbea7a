package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/finz/internal/model"
	"github.com/google/uuid"
)

// SaveNotification appends a notification. An empty ID is filled in.
func (s *SQLiteStorage) SaveNotification(ctx context.Context, n *model.Notification) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%w: notification", ErrNilParameter)
	}
	if err := validateString(n.OwnerID, "OwnerID"); err != nil {
		return err
	}
	if err := validateString(n.Title, "Title"); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner_id, title, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.OwnerID, n.Title, n.Body, n.Read, n.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to save notification: %w", err))
	}
	return nil
}

// ListNotifications returns an owner's notifications, newest first.
func (s *SQLiteStorage) ListNotifications(ctx context.Context, ownerID string) ([]model.Notification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, body, is_read, created_at
		FROM notifications
		WHERE owner_id = ?
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query notifications: %w", err))
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

// NotificationExists reports whether the owner was already sent an
// identical notification.
func (s *SQLiteStorage) NotificationExists(ctx context.Context, ownerID, title, body string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE owner_id = ? AND title = ? AND body = ?)
	`, ownerID, title, body).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check notification: %w", err))
	}
	return exists, nil
}

// MarkNotificationRead flags a notification as read.
func (s *SQLiteStorage) MarkNotificationRead(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to mark notification read: %w", err))
	}
	return expectOneRow(res, "notification", id)
}

// DeleteNotification removes a notification.
func (s *SQLiteStorage) DeleteNotification(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete notification: %w", err))
	}
	return expectOneRow(res, "notification", id)
}
