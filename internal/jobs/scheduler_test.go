package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowUnknown(t *testing.T) {
	s := NewScheduler(nil)
	_, err := s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_JobsSorted(t *testing.T) {
	noop := func(context.Context) (Summary, error) { return Summary{}, nil }
	s := NewScheduler(nil,
		Job{Name: "b", Run: noop},
		Job{Name: "a", Run: noop},
	)
	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := NewScheduler(nil, Job{Name: "slow", Run: func(context.Context) (Summary, error) {
		close(started)
		<-release
		return Summary{Successful: 1}, nil
	}})

	done := make(chan Summary)
	go func() {
		sum, _ := s.RunNow(context.Background(), "slow")
		done <- sum
	}()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	assert.Equal(t, 1, (<-done).Successful)
}

func TestScheduler_AppliesTimeout(t *testing.T) {
	s := NewScheduler(nil, Job{Name: "bounded", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) (Summary, error) {
		<-ctx.Done()
		return Summary{}, ctx.Err()
	}})
	_, err := s.RunNow(context.Background(), "bounded")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestScheduler_StartStop(t *testing.T) {
	var ticks, disabled atomic.Int32
	s := NewScheduler(nil,
		Job{Name: "tick", Enabled: true, Interval: 5 * time.Millisecond, Run: func(context.Context) (Summary, error) {
			ticks.Add(1)
			return Summary{}, nil
		}},
		Job{Name: "off", Enabled: false, Interval: 5 * time.Millisecond, Run: func(context.Context) (Summary, error) {
			disabled.Add(1)
			return Summary{}, nil
		}},
	)
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
	assert.Zero(t, disabled.Load())

	// Stop is idempotent.
	s.Stop()
}
