package model

import "time"

// Notification is an append-only record of an accrual or reminder event.
// Only Read changes after creation.
type Notification struct {
	CreatedAt time.Time
	ID        string
	OwnerID   string
	Title     string
	Body      string
	Read      bool
}
