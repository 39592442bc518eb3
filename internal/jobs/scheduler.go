// Package jobs runs the periodic calendar maintenance work: full sync,
// webhook renewal, push retry and error-log cleanup.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/observability"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// Summary is the outcome of one job run. One failing practitioner never
// aborts the rest of the batch; its error is collected here instead.
type Summary struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (s *Summary) fail(subject string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", subject, err))
}

type RunFunc func(ctx context.Context) (Summary, error)

type Job struct {
	Name     string
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	Run      RunFunc
}

type Scheduler struct {
	jobs    map[string]Job
	metrics *observability.Metrics

	mu      sync.Mutex
	running map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(metrics *observability.Metrics, jobs ...Job) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]Job, len(jobs)),
		metrics: metrics,
		running: map[string]bool{},
	}
	for _, j := range jobs {
		s.jobs[j.Name] = j
	}
	return s
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches one ticker per enabled job. Ticks that arrive while the
// previous run of the same job is still going are skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.Jobs() {
		if !j.Enabled || j.Interval <= 0 {
			slog.Info("job disabled", logs.Job(j.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop cancels in-flight runs and waits for the loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	slog.Info("job scheduled", logs.Job(j.Name), "interval", j.Interval)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx, j.Name); err != nil && !errors.Is(err, ErrJobRunning) {
				slog.Warn("job run failed", logs.Job(j.Name), logs.Err(err))
			}
		}
	}
}

// RunNow runs a job synchronously, bounded by its timeout.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Summary, error) {
	j, ok := s.jobs[name]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.acquire(name) {
		slog.Debug("job still running, skipping tick", logs.Job(name))
		return Summary{}, ErrJobRunning
	}
	defer s.release(name)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	ctx, span := observability.Tracer().Start(ctx, "jobs."+name)
	defer span.End()

	start := time.Now()
	sum, err := j.Run(ctx)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case sum.Failed > 0:
		outcome = "partial"
	}
	s.metrics.SyncRun(ctx, name, outcome)

	attrs := []any{
		logs.Job(name),
		"successful", sum.Successful,
		"failed", sum.Failed,
		"duration", time.Since(start),
	}
	if err != nil {
		slog.WarnContext(ctx, "job finished with error", append(attrs, logs.Err(err))...)
	} else {
		slog.InfoContext(ctx, "job finished", attrs...)
	}
	return sum, err
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}
