package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWorker struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (w *recordingWorker) Start(ctx context.Context) error {
	*w.log = append(*w.log, "start:"+w.name)
	return w.startErr
}

func (w *recordingWorker) Stop() error {
	*w.log = append(*w.log, "stop:"+w.name)
	return w.stopErr
}

func (w *recordingWorker) Name() string { return w.name }

func TestWorkerManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", log: &log})
	m.Register(&recordingWorker{name: "b", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Equal(t, 2, m.GetWorkerCount())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)

	assert.NoError(t, m.StopAll())
}

func TestWorkerManager_FailedStartIsNotStopped(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", log: &log, startErr: errors.New("boom")})
	m.Register(&recordingWorker{name: "b", log: &log})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: boom")
	assert.True(t, m.IsRunning())

	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start:a", "start:b", "stop:b"}, log)
}

func TestWorkerManager_StopErrors(t *testing.T) {
	var log []string
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", log: &log, stopErr: errors.New("stuck")})

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop 1 workers")
}

func TestPool_RunsTasks(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.Size = 2
	p, err := NewPool(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Capacity())
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(2), ran.Load())
	assert.NoError(t, p.Stop())
}

func TestPool_NonblockingRejectsWhenSaturated(t *testing.T) {
	p, err := NewPool(PoolConfig{Size: 1, Nonblocking: true, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	assert.Error(t, p.Submit(func() {}))

	close(release)
	assert.NoError(t, p.Stop())
}

func TestPool_PanicDoesNotKillPool(t *testing.T) {
	p, err := NewPool(PoolConfig{Size: 1}, zap.NewNop())
	require.NoError(t, err)
	defer p.Stop()

	require.NoError(t, p.Submit(func() { panic("step exploded") }))

	done := make(chan struct{})
	require.Eventually(t, func() bool {
		return p.Submit(func() { close(done) }) == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task after panic did not run")
	}
}

func TestNewPool_RejectsZeroSize(t *testing.T) {
	_, err := NewPool(PoolConfig{}, zap.NewNop())
	assert.Error(t, err)
}

type countingRecoverer struct {
	calls atomic.Int32
	err   error
}

func (r *countingRecoverer) Recover(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestRecoveryWorker_SweepsAtStartAndOnInterval(t *testing.T) {
	rec := &countingRecoverer{}
	w := NewRecoveryWorker(rec, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.GreaterOrEqual(t, rec.calls.Load(), int32(1))

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	after := rec.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, rec.calls.Load())
}

func TestRecoveryWorker_OneShot(t *testing.T) {
	rec := &countingRecoverer{err: errors.New("store unavailable: workflow_states.list")}
	w := NewRecoveryWorker(rec, 0, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.Equal(t, int32(1), rec.calls.Load())
}
