package timer

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWaker struct {
	mu    sync.Mutex
	woken []string
}

func (w *recordingWaker) OnWake(_ context.Context, executionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.woken = append(w.woken, executionID)

	return nil
}

func (w *recordingWaker) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.woken...)
}

func TestMemoryTimerDeliversDueWakes(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryTimerService(slog.Default())
	waker := &recordingWaker{}

	require.NoError(t, svc.ScheduleWake(ctx, "exec-1", time.Now().Add(60*time.Millisecond)))
	require.NoError(t, svc.ScheduleWake(ctx, "exec-later", time.Now().Add(time.Hour)))

	require.NoError(t, svc.Start(ctx, waker))
	defer func() { _ = svc.Stop(ctx) }()

	assert.Eventually(t, func() bool {
		woken := waker.all()

		return len(woken) == 1 && woken[0] == "exec-1"
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryTimerCancelledWakeNeverFires(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryTimerService(slog.Default())
	waker := &recordingWaker{}

	require.NoError(t, svc.ScheduleWake(ctx, "exec-1", time.Now().Add(60*time.Millisecond)))
	require.NoError(t, svc.CancelWake(ctx, "exec-1"))

	require.NoError(t, svc.Start(ctx, waker))
	defer func() { _ = svc.Stop(ctx) }()

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, waker.all())
}

func TestMemoryTimerRescheduleReplaces(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryTimerService(slog.Default())
	waker := &recordingWaker{}

	require.NoError(t, svc.ScheduleWake(ctx, "exec-1", time.Now().Add(time.Hour)))
	require.NoError(t, svc.ScheduleWake(ctx, "exec-1", time.Now().Add(50*time.Millisecond)))

	require.NoError(t, svc.Start(ctx, waker))
	defer func() { _ = svc.Stop(ctx) }()

	assert.Eventually(t, func() bool {
		return len(waker.all()) == 1
	}, time.Second, 10*time.Millisecond)

	// Only one delivery even though ScheduleWake was called twice.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, waker.all(), 1)
}

func TestMemoryTimerCancelUnknownIsNoOp(t *testing.T) {
	svc := NewMemoryTimerService(slog.Default())
	assert.NoError(t, svc.CancelWake(context.Background(), "missing"))
}
