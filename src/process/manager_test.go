package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegisterRejectsDuplicatesAndLateCalls(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("loop", true, blockUntilDone))
	assert.ErrorIs(t, m.Register("loop", false, blockUntilDone), ErrExists)

	require.NoError(t, m.StartAll(context.Background()))
	assert.ErrorIs(t, m.Register("late", false, blockUntilDone), ErrStarted)
	assert.ErrorIs(t, m.StartAll(context.Background()), ErrStarted)
	require.NoError(t, m.StopAll())
}

func TestStopAllCancelsCleanly(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("loop", true, blockUntilDone))
	require.NoError(t, m.Register("watch", false, blockUntilDone))
	require.NoError(t, m.StartAll(context.Background()))

	require.Eventually(t, func() bool {
		s := m.Status()
		return s["loop"] == StateRunning && s["watch"] == StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	assert.Equal(t, map[string]State{"loop": StateExited, "watch": StateExited}, m.Status())
}

func TestCriticalFailureStopsOthers(t *testing.T) {
	boom := errors.New("boom")
	var fatal atomic.Value
	m := NewManager(OnFatal(func(name string, err error) { fatal.Store(name) }))
	require.NoError(t, m.Register("loop", true, func(ctx context.Context) error { return boom }))
	require.NoError(t, m.Register("watch", false, blockUntilDone))
	require.NoError(t, m.StartAll(context.Background()))

	require.Eventually(t, func() bool {
		info, _ := m.Info("loop")
		return info.State == StateCrashed
	}, time.Second, 5*time.Millisecond)
	err := m.StopAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "loop", fatal.Load())

	info, ok := m.Info("loop")
	require.True(t, ok)
	assert.Equal(t, StateCrashed, info.State)
	assert.Equal(t, 1, info.CrashCount)
}

func TestNonCriticalRestartsAfterPanic(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(WithBackoff(time.Millisecond))
	require.NoError(t, m.Register("watch", false, func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			panic("flaky")
		}
		return blockUntilDone(ctx)
	}))
	require.NoError(t, m.StartAll(context.Background()))

	require.Eventually(t, func() bool {
		info, _ := m.Info("watch")
		return info.State == StateRunning && runs.Load() == 3
	}, time.Second, 5*time.Millisecond)

	info, _ := m.Info("watch")
	assert.Equal(t, 2, info.CrashCount)
	assert.EqualError(t, info.LastError, "panic: flaky")
	require.NoError(t, m.StopAll())
}

func TestNonCriticalGivesUp(t *testing.T) {
	var runs atomic.Int32
	m := NewManager(WithBackoff(time.Millisecond))
	require.NoError(t, m.Register("watch", false, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("no watcher")
	}))
	require.NoError(t, m.StartAll(context.Background()))

	require.Eventually(t, func() bool {
		info, _ := m.Info("watch")
		return info.CrashCount == maxRestarts
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, m.StopAll())

	assert.Equal(t, int32(maxRestarts), runs.Load())
	info, _ := m.Info("watch")
	assert.Equal(t, StateCrashed, info.State)
}

func TestStopAllBeforeStart(t *testing.T) {
	assert.NoError(t, NewManager().StopAll())
	_, ok := NewManager().Info("missing")
	assert.False(t, ok)
}
