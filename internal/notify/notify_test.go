package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	err      error
	saved    []model.Notification
	failures int
	calls    int
}

func (s *flakyStore) SaveNotification(_ context.Context, n *model.Notification) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	n.ID = "n1"
	s.saved = append(s.saved, *n)
	return nil
}

type recordingPusher struct {
	pushed []model.Notification
}

func (p *recordingPusher) Push(_ context.Context, n model.Notification) error {
	p.pushed = append(p.pushed, n)
	return nil
}

func fastRetry() service.RetryOptions {
	return service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestRecorder_EmitSavesAndPushes(t *testing.T) {
	store := &flakyStore{}
	pusher := &recordingPusher{}
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var logs bytes.Buffer

	r := NewRecorder(store, quietLogger(&logs),
		WithPusher(pusher),
		WithRetry(fastRetry()),
		WithClock(service.FixedClock{T: now}))
	r.Emit(context.Background(), "acc1", "Expense posted", "Rent: $500.00")

	require.Len(t, store.saved, 1)
	assert.Equal(t, "acc1", store.saved[0].OwnerID)
	assert.True(t, store.saved[0].CreatedAt.Equal(now))
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "n1", pusher.pushed[0].ID)
}

func TestRecorder_EmitRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{err: common.ErrTransient, failures: 2}
	var logs bytes.Buffer

	r := NewRecorder(store, quietLogger(&logs), WithRetry(fastRetry()))
	r.Emit(context.Background(), "acc1", "t", "b")

	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.saved, 1)
}

func TestRecorder_EmitSwallowsFailures(t *testing.T) {
	store := &flakyStore{err: errors.New("disk full"), failures: 10}
	pusher := &recordingPusher{}
	var logs bytes.Buffer

	r := NewRecorder(store, quietLogger(&logs), WithPusher(pusher), WithRetry(fastRetry()))
	assert.NotPanics(t, func() {
		r.Emit(context.Background(), "acc1", "t", "b")
	})

	assert.Equal(t, 1, store.calls, "non-transient errors are not retried")
	assert.Empty(t, pusher.pushed)
	assert.Contains(t, logs.String(), "failed to record notification")
}

func TestMemory_ConcurrentEmit(t *testing.T) {
	var m Memory
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Emit(context.Background(), "acc1", "t", "b")
		}()
	}
	wg.Wait()

	assert.Len(t, m.Events(), 20)
	assert.Len(t, m.Titles("acc1"), 20)
	assert.Empty(t, m.Titles("acc2"))
}

func TestLogPusher(t *testing.T) {
	var logs bytes.Buffer
	p := LogPusher{Logger: quietLogger(&logs)}
	require.NoError(t, p.Push(context.Background(), model.Notification{OwnerID: "acc1", Title: "Hello"}))
	assert.Contains(t, logs.String(), "Hello")
}
