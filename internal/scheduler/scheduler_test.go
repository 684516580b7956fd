package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RejectsBadTasks(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New(quietLogger(), Task{Name: "a", Interval: time.Second, Run: noop}, Task{Name: "a", Interval: time.Second, Run: noop})
	assert.ErrorContains(t, err, "duplicate")

	_, err = New(quietLogger(), Task{Name: "a", Interval: 0, Run: noop})
	assert.ErrorContains(t, err, "interval")

	_, err = New(quietLogger(), Task{Name: "a", Interval: time.Second})
	assert.ErrorContains(t, err, "incomplete")
}

func TestRunOnce(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	s, err := New(quietLogger(),
		Task{Name: "settle", Interval: time.Second, Run: func(context.Context) error { calls.Add(1); return nil }},
		Task{Name: "broken", Interval: time.Second, Run: func(context.Context) error { return boom }},
	)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background(), "settle"))
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, s.RunOnce(context.Background(), "broken"), boom)
	assert.Error(t, s.RunOnce(context.Background(), "missing"))
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	s, err := New(quietLogger(), Task{Name: "release", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPeriodicJobs(t *testing.T) {
	noop := func(context.Context) error { return nil }
	s, err := New(quietLogger(),
		Task{Name: "settle", Interval: 3 * time.Second, Run: noop},
		Task{Name: "release", Interval: time.Hour, Run: noop},
	)
	require.NoError(t, err)
	assert.Len(t, s.PeriodicJobs(), 2)
	assert.Len(t, s.Tasks(), 2)
}

func TestTickWorker(t *testing.T) {
	var ran string
	s, err := New(quietLogger(), Task{Name: "report", Interval: time.Hour, Run: func(context.Context) error {
		ran = "report"
		return nil
	}})
	require.NoError(t, err)
	w := NewTickWorker(s)

	job := &river.Job[TickArgs]{JobRow: &rivertype.JobRow{}, Args: TickArgs{Task: "report"}}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, "report", ran)
	assert.Equal(t, time.Hour, w.Timeout(job))

	unknown := &river.Job[TickArgs]{JobRow: &rivertype.JobRow{}, Args: TickArgs{Task: "nope"}}
	assert.ErrorContains(t, w.Work(context.Background(), unknown), "unknown task")
}
