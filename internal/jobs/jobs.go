package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/internal/service/calendarsync"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
)

const (
	JobCalendarSync   = "calendar-sync"
	JobWebhookRenewal = "webhook-renewal"
	JobSyncRetry      = "sync-retry"
	JobErrorCleanup   = "error-cleanup"
)

const defaultConcurrency = 4

type Deps struct {
	DB     *repo.Client
	Engine calendarsync.Engine
}

type runner struct {
	Deps
	cfg      config.CalendarSyncConfig
	webhooks bool
	now      func() time.Time
}

// Build returns the four maintenance jobs configured from cfg.
func Build(d Deps, jobs config.JobsConfig, cfg config.CalendarSyncConfig, google config.GoogleConfig) []Job {
	r := &runner{Deps: d, cfg: cfg, webhooks: google.WebhookAddress != "", now: time.Now}
	return r.jobs(jobs)
}

func (r *runner) jobs(c config.JobsConfig) []Job {
	job := func(name string, jc config.JobConfig, run RunFunc) Job {
		return Job{
			Name:     name,
			Enabled:  c.Enabled && jc.Enabled,
			Interval: jc.Interval(),
			Timeout:  jc.Timeout(),
			Run:      run,
		}
	}
	return []Job{
		job(JobCalendarSync, c.CalendarSync, r.calendarSync),
		job(JobWebhookRenewal, c.WebhookRenewal, r.webhookRenewal),
		job(JobSyncRetry, c.SyncRetry, r.syncRetry),
		job(JobErrorCleanup, c.ErrorCleanup, r.errorCleanup),
	}
}

func (r *runner) concurrency() int {
	if r.cfg.BatchConcurrency > 0 {
		return r.cfg.BatchConcurrency
	}
	return defaultConcurrency
}

// forEach runs fn for every item with bounded concurrency and folds the
// results into one summary. fn errors never cancel the siblings.
func forEach[T any](ctx context.Context, limit int, items []T, subject func(T) string, fn func(context.Context, T) error) Summary {
	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			err := fn(gctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.fail(subject(item), err)
			} else {
				sum.Successful++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum
}

func practitionerOf(s *repo.CalendarSync) string { return s.PractitionerID.String() }

// calendarSync runs a full sync for every connected practitioner.
func (r *runner) calendarSync(ctx context.Context) (Summary, error) {
	syncs, err := r.DB.CalendarSync.ListEnabled(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list enabled: %w", err)
	}
	sum := forEach(ctx, r.concurrency(), syncs, practitionerOf, func(ctx context.Context, s *repo.CalendarSync) error {
		res, err := r.Engine.SyncPractitioner(ctx, s.PractitionerID, "")
		if err != nil {
			return err
		}
		if res.Push.Failed > 0 || res.Pull.Errors > 0 {
			return fmt.Errorf("%d push failures, %d pull errors", res.Push.Failed, res.Pull.Errors)
		}
		return nil
	})
	return sum, nil
}

// webhookRenewal re-subscribes channels that expire within the threshold.
func (r *runner) webhookRenewal(ctx context.Context) (Summary, error) {
	threshold := r.cfg.WebhookRenewalThreshold()
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	if !r.webhooks {
		slog.DebugContext(ctx, "no webhook address configured", logs.Job(JobWebhookRenewal))
		return Summary{}, nil
	}
	syncs, err := r.DB.CalendarSync.ListWebhooksExpiringBefore(ctx, r.now().Add(threshold))
	if err != nil {
		return Summary{}, fmt.Errorf("list expiring webhooks: %w", err)
	}
	sum := forEach(ctx, r.concurrency(), syncs, practitionerOf, func(ctx context.Context, s *repo.CalendarSync) error {
		err := r.Engine.RenewWebhook(ctx, s.PractitionerID)
		if err != nil {
			slog.WarnContext(ctx, "webhook renewal failed", logs.Practitioner(s.PractitionerID), logs.Err(err))
		}
		return err
	})
	return sum, nil
}

// syncRetry pushes appointments whose earlier push failed or never ran.
func (r *runner) syncRetry(ctx context.Context) (Summary, error) {
	since := time.Time{}
	if w := r.cfg.RetryWindow(); w > 0 {
		since = r.now().Add(-w)
	}
	maxAttempts := r.cfg.RetryMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	pending, err := r.DB.Appointment.ListUnsynced(ctx, since, maxAttempts, r.cfg.RetryBatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("list unsynced: %w", err)
	}
	subject := func(a *repo.Appointment) string { return a.ID.String() }
	return forEach(ctx, r.concurrency(), pending, subject, func(ctx context.Context, a *repo.Appointment) error {
		return r.Engine.PushAppointment(ctx, a.ID)
	}), nil
}

// errorCleanup prunes old sync errors and ended recurring block series.
func (r *runner) errorCleanup(ctx context.Context) (Summary, error) {
	var sum Summary
	now := r.now().UTC()

	retention := r.cfg.ErrorRetention()
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	pruned, err := r.DB.CalendarSync.PruneErrors(ctx, now.Add(-retention))
	if err != nil {
		sum.fail("prune errors", err)
	} else {
		sum.Successful += int(pruned)
	}

	removed, err := r.DB.BlockedTime.DeleteExpiredSeries(ctx, now)
	if err != nil {
		sum.fail("delete expired series", err)
	} else {
		sum.Successful += int(removed)
	}
	return sum, nil
}
