package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFunc_RejectsInvalidExpression(t *testing.T) {
	s := New(nil)
	err := s.AddFunc("bad", "not a cron expression", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestAddFunc_AcceptsEveryDescriptor(t *testing.T) {
	s := New(nil)
	err := s.AddFunc("review", "@every 1h", func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestRunOnce_RunsJobsDueNowAndAdvancesNextRun(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time { return clock }))

	var calls int32
	require.NoError(t, s.AddFunc("every-minute", "* * * * *", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	// The job's first run is one minute out; before then it must not fire.
	ran := s.RunOnce(context.Background())
	assert.Equal(t, 0, ran)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	clock = clock.Add(time.Minute)
	ran = s.RunOnce(context.Background())
	assert.Equal(t, 1, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Running again immediately, with the clock unchanged, must not re-fire
	// the job until its newly computed next run time arrives.
	ran = s.RunOnce(context.Background())
	assert.Equal(t, 0, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunOnce_SkipsJobsNotYetDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time { return now }))

	var calls int32
	require.NoError(t, s.AddFunc("yearly", "@yearly", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	ran := s.RunOnce(context.Background())
	assert.Equal(t, 0, ran)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestStartAndStop_RunsDueJobOnTick(t *testing.T) {
	s := New(nil, WithTickInterval(5*time.Millisecond))

	done := make(chan struct{}, 1)
	require.NoError(t, s.AddFunc("immediate", "@every 1ms", func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled job never ran")
	}
}

func TestJobs_ReportsNameAndNextRun(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time { return clock }))
	require.NoError(t, s.AddFunc("retention-sweep", "@hourly", func(context.Context) error { return nil }))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "retention-sweep", jobs[0].Name)
	assert.Equal(t, clock.Add(time.Hour), jobs[0].NextRun)
	assert.True(t, jobs[0].LastRun.IsZero())
}

func TestStart_IsIdempotent(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
