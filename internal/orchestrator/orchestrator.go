// Package orchestrator pulls practice data from the upstream practice
// system into the local store, one sync job per practice run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/platform/metrics"
	"github.com/ehr/pmsync/internal/platform/runlock"
	"github.com/ehr/pmsync/internal/upstream"
)

const (
	DefaultPageSize          = 100
	DefaultRunBudget         = 30 * time.Minute
	DefaultLookback          = 24 * time.Hour
	DefaultAppointmentWindow = 30 * 24 * time.Hour
	DefaultLockTTL           = 35 * time.Minute
)

// Config tunes a sync run. Zero values fall back to the defaults above.
type Config struct {
	PageSize          int
	RunBudget         time.Duration
	Lookback          time.Duration
	AppointmentWindow time.Duration
	LockTTL           time.Duration
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RunBudget <= 0 {
		c.RunBudget = DefaultRunBudget
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.AppointmentWindow <= 0 {
		c.AppointmentWindow = DefaultAppointmentWindow
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
}

// ClientFactory hands out the upstream client bound to one practice.
type ClientFactory interface {
	ForPractice(p *practice.Practice) (*upstream.Client, error)
}

type Option func(*Orchestrator)

func WithLocker(l runlock.Locker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now; tests use it to pin cutoffs.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

type Orchestrator struct {
	practices practice.Repository
	store     records.Store
	jobs      audit.JobRepository
	clients   ClientFactory
	locker    runlock.Locker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cfg       Config
	now       func() time.Time
}

func New(practices practice.Repository, store records.Store, jobs audit.JobRepository, clients ClientFactory, logger zerolog.Logger, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		practices: practices,
		store:     store,
		jobs:      jobs,
		clients:   clients,
		locker:    runlock.NewLocalLocker(),
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state shared by every step of one practice run.
type run struct {
	practice *practice.Practice
	client   *upstream.Client
	store    records.Store
	pageSize int
	started  time.Time
	cutoff   *time.Time
	logger   zerolog.Logger
}

type step struct {
	kind records.Kind
	pull func(ctx context.Context, r *run) (Tally, error)
}

// FullSync pulls every resource kind for one practice.
func (o *Orchestrator) FullSync(ctx context.Context, practiceID uuid.UUID) (*audit.SyncJob, error) {
	p, err := o.practices.GetByID(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("load practice %s: %w", practiceID, err)
	}
	return o.execute(ctx, p, audit.JobFull, nil, o.fullSteps())
}

// IncrementalSyncPractice pulls records changed since the practice's last
// successful sync.
func (o *Orchestrator) IncrementalSyncPractice(ctx context.Context, practiceID uuid.UUID) (*audit.SyncJob, error) {
	p, err := o.practices.GetByID(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("load practice %s: %w", practiceID, err)
	}
	return o.incremental(ctx, p)
}

func (o *Orchestrator) incremental(ctx context.Context, p *practice.Practice) (*audit.SyncJob, error) {
	cutoff := o.now().Add(-o.cfg.Lookback)
	if p.LastSyncedAt != nil {
		cutoff = p.LastSyncedAt.UTC()
	}
	return o.execute(ctx, p, audit.JobIncremental, &cutoff, o.incrementalSteps())
}

// Summary reports one incremental pass over every active practice.
type Summary struct {
	Practices int
	Completed int
	Failed    int
	Skipped   int
	Jobs      []*audit.SyncJob
	Errors    map[uuid.UUID]string
}

// IncrementalSync runs an incremental sync for every active practice in
// turn. A failing practice is recorded and the loop moves on.
func (o *Orchestrator) IncrementalSync(ctx context.Context) Summary {
	sum := Summary{Errors: make(map[uuid.UUID]string)}
	active, err := o.practices.ListActive(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("list active practices")
		sum.Errors[uuid.Nil] = err.Error()
		return sum
	}
	for _, p := range active {
		if ctx.Err() != nil {
			break
		}
		sum.Practices++
		if !p.Configured() {
			sum.Skipped++
			continue
		}
		job, err := o.incremental(ctx, p)
		if job != nil {
			sum.Jobs = append(sum.Jobs, job)
		}
		switch {
		case errors.Is(err, runlock.ErrLocked):
			sum.Skipped++
		case err != nil:
			sum.Failed++
			sum.Errors[p.ID] = err.Error()
			o.logger.Error().Err(err).Str("practice_id", p.ID.String()).Msg("incremental sync failed")
		case job.Status == audit.JobFailed:
			sum.Failed++
			sum.Errors[p.ID] = "all resource kinds failed"
		default:
			sum.Completed++
		}
	}
	return sum
}

// execute runs steps under the practice lock and the run budget, then
// finalizes the job and the practice status. The returned job is non-nil
// whenever it was created, including on failure.
func (o *Orchestrator) execute(ctx context.Context, p *practice.Practice, jobType string, cutoff *time.Time, steps []step) (*audit.SyncJob, error) {
	lock, err := o.locker.Acquire(ctx, "sync:"+p.ID.String(), o.cfg.LockTTL)
	if err != nil {
		err = fmt.Errorf("practice %s: %w", p.ID, err)
		// A held lock means another run is active, not that the tenant is broken.
		if !errors.Is(err, runlock.ErrLocked) {
			o.markError(ctx, p, err)
		}
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Str("practice_id", p.ID.String()).Msg("release run lock")
		}
	}()

	job := &audit.SyncJob{
		PracticeID: p.ID,
		Type:       jobType,
		Status:     audit.JobRunning,
		StartedAt:  o.now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		err = fmt.Errorf("create sync job: %w", err)
		o.markError(ctx, p, err)
		return nil, err
	}
	log := o.logger.With().
		Str("practice_id", p.ID.String()).
		Str("job_id", job.ID.String()).
		Str("job_type", jobType).
		Logger()
	log.Info().Msg("sync started")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunBudget)
	defer cancel()

	r := &run{
		store:    o.store,
		practice: p,
		pageSize: o.cfg.PageSize,
		started:  job.StartedAt,
		cutoff:   cutoff,
		logger:   log,
	}
	total, attempted, failedKinds, runErr := o.runSteps(runCtx, r, steps)

	job.RecordsProcessed = total.Processed
	job.RecordsFailed = total.Failed
	job.RecordsSkipped = total.Skipped
	job.Errors = total.errorList()
	job.Status = audit.JobCompleted
	if runErr != nil || (attempted > 0 && failedKinds == attempted && total.Processed == 0) {
		job.Status = audit.JobFailed
	}
	finished := o.now()
	job.FinishedAt = &finished

	// Finalization must land even when the caller's context is gone.
	fctx := context.WithoutCancel(ctx)
	if err := o.jobs.Finalize(fctx, job); err != nil {
		log.Error().Err(err).Msg("finalize sync job")
	}
	if job.Status == audit.JobCompleted {
		if err := o.practices.MarkSynced(fctx, p.ID, job.StartedAt); err != nil {
			log.Error().Err(err).Msg("mark practice synced")
		}
	} else {
		msg := "every resource kind failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		if err := o.practices.SetStatus(fctx, p.ID, practice.StatusError, msg); err != nil {
			log.Error().Err(err).Msg("set practice status")
		}
	}
	o.metrics.ObserveJob(jobType, job.Status, finished.Sub(job.StartedAt))

	log.Info().
		Str("status", job.Status).
		Int("processed", job.RecordsProcessed).
		Int("failed", job.RecordsFailed).
		Int("skipped", job.RecordsSkipped).
		Dur("duration", finished.Sub(job.StartedAt)).
		Msg("sync finished")
	return job, runErr
}

// markError flags a practice whose run could not start.
func (o *Orchestrator) markError(ctx context.Context, p *practice.Practice, cause error) {
	if err := o.practices.SetStatus(context.WithoutCancel(ctx), p.ID, practice.StatusError, cause.Error()); err != nil {
		o.logger.Error().Err(err).Str("practice_id", p.ID.String()).Msg("set practice status")
	}
}

func (o *Orchestrator) runSteps(ctx context.Context, r *run, steps []step) (total Tally, attempted, failedKinds int, runErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("sync panicked: %v", rec)
			total.note("%v", runErr)
		}
	}()

	client, err := o.clients.ForPractice(r.practice)
	if err != nil {
		total.note("%v", err)
		return total, 0, 0, err
	}
	if _, err := client.Authenticate(ctx); err != nil {
		total.note("authenticate: %v", err)
		return total, 0, 0, err
	}
	r.client = client

	for _, s := range steps {
		attempted++
		t, err := s.pull(ctx, r)
		total.merge(t)
		o.metrics.ObserveRecords(string(s.kind), "processed", t.Processed)
		o.metrics.ObserveRecords(string(s.kind), "failed", t.Failed)
		o.metrics.ObserveRecords(string(s.kind), "skipped", t.Skipped)
		if err == nil {
			r.logger.Debug().Str("kind", string(s.kind)).Int("processed", t.Processed).Int("failed", t.Failed).Msg("kind synced")
			continue
		}
		failedKinds++
		total.note("%s: %v", s.kind, err)
		r.logger.Warn().Err(err).Str("kind", string(s.kind)).Msg("kind sync failed")
		if errors.Is(err, upstream.ErrAuthentication) || ctx.Err() != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("sync aborted at %s: %w", s.kind, ctx.Err())
			}
			return total, attempted, failedKinds, err
		}
	}
	return total, attempted, failedKinds, nil
}
