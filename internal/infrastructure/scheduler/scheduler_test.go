package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/melon-hub/melon-rank/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func newTestScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = logger.Discard()
	cfg.Resolution = 5 * time.Millisecond
	return NewScheduler(cfg)
}

func TestScheduler_RunsIntervalJobs(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "tick", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(3))
	assert.Equal(t, "@every 10ms", info.Schedule)
	assert.False(t, s.IsRunning())
}

func TestScheduler_FirstRunWaitsOneInterval(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "slow", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(0), runs.Load())
}

func TestScheduler_DoesNotOverlapJob(t *testing.T) {
	s := newTestScheduler()

	release := make(chan struct{})
	var concurrent, maxConcurrent atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "blocking", run: func(ctx context.Context) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		info, err := s.GetJobInfo("blocking")
		return err == nil && info.SkippedRuns >= 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.RunNow(context.Background(), "blocking")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := newTestScheduler()

	started := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.Register(&funcJob{name: "wait", run: func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RunNowAndHistory(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")

	require.NoError(t, s.Register(&funcJob{name: "ok", run: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&funcJob{name: "bad", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "bad", history[1].JobName)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
	assert.InDelta(t, 0.5, snap.SuccessRate, 0.001)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&funcJob{name: "panics", run: func(context.Context) error { panic("oops") }}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanic)
}

func TestScheduler_Registration(t *testing.T) {
	s := newTestScheduler()
	job := &funcJob{name: "dup", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	require.NoError(t, s.DisableJob("dup"))
	info, err := s.GetJobInfo("dup")
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)
	assert.Len(t, s.ListJobs(), 1)
}

func TestIntervalSchedule_ZeroNeverFires(t *testing.T) {
	assert.True(t, NewIntervalSchedule(0).Next(time.Now()).IsZero())
}
