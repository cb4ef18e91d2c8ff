package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/infrastructure/lock"
)

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context, now time.Time) (service.SweepResult, error) {
	f.calls.Add(1)
	return service.SweepResult{Scanned: 2, Escalated: 1}, f.err
}

func TestEscalationWorker_RunOnce(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), sweeper, nil, zap.NewNop())

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), sweeper.calls.Load())

	last, lastErr := w.LastRun()
	assert.False(t, last.IsZero())
	assert.NoError(t, lastErr)
}

func TestEscalationWorker_SkipsWhenLeaseHeld(t *testing.T) {
	sweeper := &fakeSweeper{}
	lease := lock.NewLocalLock()
	release, _ := lease.TryAcquire(context.Background())
	defer release()

	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), sweeper, lease, zap.NewNop())
	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, sweeper.calls.Load())
}

func TestEscalationWorker_SweepErrorReleasesLease(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db locked")}
	lease := lock.NewLocalLock()
	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), sweeper, lease, zap.NewNop())

	ran, err := w.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)

	release, _ := lease.TryAcquire(context.Background())
	assert.NotNil(t, release)
}

func TestEscalationWorker_InvalidSchedule(t *testing.T) {
	w := NewEscalationWorker(EscalationWorkerConfig{Schedule: "every five minutes"}, &fakeSweeper{}, nil, zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(zap.NewNop())
	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), &fakeSweeper{}, nil, zap.NewNop())
	bad := NewEscalationWorker(EscalationWorkerConfig{Schedule: "bogus"}, &fakeSweeper{}, nil, zap.NewNop())
	m.Register(w)
	m.Register(bad)

	err := m.StartAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"EscalationWorker"}, m.Running())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.Empty(t, m.Running())
	assert.NoError(t, m.StopAll())
}
