package model

import "time"

// Category groups expenses for reporting. Categories flagged Default are
// shared by every account.
type Category struct {
	CreatedAt time.Time
	OwnerID   string
	Name      string
	Icon      string
	ID        int64
	Default   bool
	IsActive  bool
}
