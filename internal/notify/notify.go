// Package notify records accrual and reminder events as notifications.
//
// Delivery is best effort. A failed save is retried briefly and then logged;
// it never reaches the caller, so a balance mutation that already committed
// is never undone or repeated because its notification could not be stored.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
)

// Store is the slice of storage the recorder writes to.
type Store interface {
	SaveNotification(ctx context.Context, n *model.Notification) error
}

// Pusher forwards a saved notification to an outer delivery channel.
type Pusher interface {
	Push(ctx context.Context, n model.Notification) error
}

// Recorder persists notifications and fans them out to pushers.
type Recorder struct {
	store   Store
	clock   service.Clock
	logger  *slog.Logger
	pushers []Pusher
	retry   service.RetryOptions
}

var _ service.Notifier = (*Recorder)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithPusher adds a delivery channel.
func WithPusher(p Pusher) Option {
	return func(r *Recorder) { r.pushers = append(r.pushers, p) }
}

// WithRetry overrides the save retry policy.
func WithRetry(opts service.RetryOptions) Option {
	return func(r *Recorder) { r.retry = opts }
}

// WithClock sets the clock stamped on notifications.
func WithClock(c service.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		clock:  service.SystemClock{},
		logger: logger,
		retry:  service.RetryOptions{MaxAttempts: 3},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit saves the notification and pushes it. Errors are logged only.
func (r *Recorder) Emit(ctx context.Context, ownerID, title, body string) {
	n := &model.Notification{
		OwnerID:   ownerID,
		Title:     title,
		Body:      body,
		CreatedAt: r.clock.Now(),
	}

	err := common.WithRetry(ctx, func() error {
		return r.store.SaveNotification(ctx, n)
	}, r.retry)
	if err != nil {
		r.logger.Warn("failed to record notification",
			"owner", ownerID,
			"title", title,
			"error", err)
		return
	}

	for _, p := range r.pushers {
		if err := p.Push(ctx, *n); err != nil {
			r.logger.Warn("failed to push notification",
				"owner", ownerID,
				"id", n.ID,
				"error", err)
		}
	}
}

// LogPusher writes every notification to a logger. It is the default
// delivery channel for the daemon.
type LogPusher struct {
	Logger *slog.Logger
}

// Push logs the notification.
func (p LogPusher) Push(_ context.Context, n model.Notification) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"owner", n.OwnerID,
		"title", n.Title,
		"body", n.Body)
	return nil
}

// Memory is an in-process sink that keeps every emission. It is safe for
// concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []model.Notification
}

var _ service.Notifier = (*Memory)(nil)

// Emit records the event.
func (m *Memory) Emit(_ context.Context, ownerID, title, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, model.Notification{OwnerID: ownerID, Title: title, Body: body})
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Notification(nil), m.events...)
}

// Titles returns the titles emitted for owner, in order.
func (m *Memory) Titles(ownerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.OwnerID == ownerID {
			out = append(out, e.Title)
		}
	}
	return out
}
