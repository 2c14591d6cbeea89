package core

// jobs.go runs extraction jobs in the background.
//
// A job is started with StartExtraction, which returns its id immediately.
// Callers follow it with SubscribeProgress (a channel closed when the job
// ends), poll it with JobProgress, block on JobResult, or stop it with
// CancelJob. Finished jobs stay queryable until the retention sweeper
// removes them.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/colextract/internal/extraction"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/logging"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
)

// listenerBuffer is the per-subscriber channel capacity. Updates to a full
// channel are dropped; the final snapshot is always available via JobProgress.
const listenerBuffer = 16

type activeJob struct {
	job       *extraction.Job
	projectID string
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *slog.Logger

	mu         sync.Mutex
	progress   JobProgress
	result     *JobResult
	listeners  []chan JobProgress
	finishedAt time.Time
}

// StartExtraction starts an extraction job on a project and returns its id.
// The column, services and filters are checked before the job starts;
// everything after that is reported through the job's progress and result.
func (s *Service) StartExtraction(ctx context.Context, projectID string, req ExtractionRequest) (string, error) {
	p, err := s.project(projectID)
	if err != nil {
		return "", err
	}
	if _, _, err := p.history.Dataset().ColumnByName(req.Column); err != nil {
		return "", err
	}
	for _, f := range req.Filters {
		if err := f.Validate(); err != nil {
			return "", err
		}
	}
	named, err := s.services.Select(req.Services)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.limiter.Release()
		return "", ErrShuttingDown
	}
	if p.activeJob != "" {
		s.mu.Unlock()
		s.limiter.Release()
		return "", fmt.Errorf("project %s: %w", projectID, ErrProjectBusy)
	}
	p.activeJob = jobID
	s.mu.Unlock()

	bindings := make([]extraction.Binding, len(named))
	names := make([]string, len(named))
	for i, n := range named {
		bindings[i] = extraction.Binding{Name: n.Name, Service: n.Service}
		names[i] = n.Name
	}

	// The job outlives the request that started it.
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if s.opts.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.opts.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	logger := logging.ForJob(ctx, jobID, projectID, requesterAttrs(ctx)...)
	aj := &activeJob{
		projectID: projectID,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger,
		progress: JobProgress{
			JobID:     jobID,
			ProjectID: projectID,
			Column:    req.Column,
			Services:  names,
			Phase:     PhaseRunning,
			StartedAt: time.Now().UTC(),
		},
	}
	aj.job = &extraction.Job{
		ID:       jobID,
		Column:   req.Column,
		Bindings: bindings,
		Filter:   rowfilter.FilterSet{Filters: req.Filters},
		History:  p.history,
		Engine: &extraction.Engine{
			ServiceTimeout: s.opts.ServiceTimeout,
			OnServiceError: aj.serviceFailed,
			Logger:         logger,
		},
		Supervisor: aj,
		Progress:   aj.setPercent,
		Logger:     logger,
	}

	s.mu.Lock()
	s.jobs[jobID] = aj
	s.mu.Unlock()

	go s.runJob(jobCtx, p, aj)

	return jobID, nil
}

func (s *Service) runJob(ctx context.Context, p *project, aj *activeJob) {
	defer func() {
		if r := recover(); r != nil {
			aj.logger.Error("extraction job panicked", "panic", r)
		}
		aj.cancel()

		s.mu.Lock()
		p.activeJob = ""
		s.mu.Unlock()
		s.limiter.Release()

		aj.finish()
	}()

	aj.job.Run(ctx)
}

// SubscribeProgress returns a channel that receives progress updates. The
// current snapshot is sent first. The channel is closed when the job ends;
// for a finished job it carries only the final snapshot.
func (s *Service) SubscribeProgress(jobID string) (<-chan JobProgress, error) {
	aj, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobProgress, listenerBuffer)

	aj.mu.Lock()
	defer aj.mu.Unlock()
	ch <- aj.progress
	if !aj.finishedAt.IsZero() {
		close(ch)
		return ch, nil
	}
	aj.listeners = append(aj.listeners, ch)
	return ch, nil
}

// CancelJob stops a running job at its next row boundary. Cancelling a
// finished job is a no-op.
func (s *Service) CancelJob(jobID string) error {
	aj, err := s.job(jobID)
	if err != nil {
		return err
	}
	aj.cancel()
	aj.logger.Info("extraction job cancel requested")
	return nil
}

// JobResult returns the outcome of a job, blocking until it finishes or ctx
// is done.
func (s *Service) JobResult(ctx context.Context, jobID string) (JobResult, error) {
	aj, err := s.job(jobID)
	if err != nil {
		return JobResult{}, err
	}

	select {
	case <-aj.done:
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}

	aj.mu.Lock()
	defer aj.mu.Unlock()
	return *aj.result, nil
}

// JobProgress returns the current snapshot without blocking.
func (s *Service) JobProgress(jobID string) (JobProgress, error) {
	aj, err := s.job(jobID)
	if err != nil {
		return JobProgress{}, err
	}
	return aj.snapshot(), nil
}

// Jobs lists tracked jobs, newest first. An empty projectID lists all.
func (s *Service) Jobs(projectID string) []JobProgress {
	s.mu.RLock()
	out := make([]JobProgress, 0, len(s.jobs))
	for _, aj := range s.jobs {
		if projectID == "" || aj.projectID == projectID {
			out = append(out, aj.snapshot())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

func (s *Service) job(jobID string) (*activeJob, error) {
	s.mu.RLock()
	aj, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return aj, nil
}

// removeFinishedJobs forgets jobs that finished before cutoff.
func (s *Service) removeFinishedJobs(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, aj := range s.jobs {
		aj.mu.Lock()
		expired := !aj.finishedAt.IsZero() && aj.finishedAt.Before(cutoff)
		aj.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// JobCompleted, JobCancelled and JobFailed implement extraction.Supervisor.

func (aj *activeJob) JobCompleted(_ *extraction.Job, e history.Entry) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	aj.progress.Phase = PhaseComplete
	aj.progress.Percent = 100
	aj.result = aj.newResult()
	aj.result.Entry = &e
}

func (aj *activeJob) JobCancelled(*extraction.Job) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	aj.progress.Phase = PhaseCancelled
	aj.result = aj.newResult()
	aj.result.Error = extraction.ErrCancelled.Error()
}

func (aj *activeJob) JobFailed(_ *extraction.Job, err error) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	aj.progress.Phase = PhaseFailed
	aj.progress.Error = FormatUserError(err)
	aj.result = aj.newResult()
	aj.result.Error = aj.progress.Error
}

// newResult must be called with aj.mu held.
func (aj *activeJob) newResult() *JobResult {
	return &JobResult{
		JobID:     aj.progress.JobID,
		ProjectID: aj.projectID,
		Phase:     aj.progress.Phase,
		Duration:  time.Since(aj.progress.StartedAt),
	}
}

func (aj *activeJob) setPercent(p int) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	if p == aj.progress.Percent {
		return
	}
	aj.progress.Percent = p
	aj.notifyLocked()
}

func (aj *activeJob) serviceFailed(extraction.ServiceError) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	aj.progress.Failures++
}

func (aj *activeJob) snapshot() JobProgress {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	return aj.progress
}

// finish publishes the final snapshot, closes every listener and releases
// JobResult callers.
func (aj *activeJob) finish() {
	aj.mu.Lock()
	if aj.result == nil {
		// Run panicked before reporting an outcome.
		aj.progress.Phase = PhaseFailed
		aj.progress.Error = defaultMessage.Message
		aj.result = aj.newResult()
		aj.result.Error = aj.progress.Error
	}
	aj.finishedAt = time.Now()
	aj.notifyLocked()
	for _, ch := range aj.listeners {
		close(ch)
	}
	aj.listeners = nil
	aj.mu.Unlock()

	close(aj.done)
}

// notifyLocked sends the snapshot to all listeners. Slow listeners miss the
// update. Must be called with aj.mu held.
func (aj *activeJob) notifyLocked() {
	aj.progress.Seq++
	for _, ch := range aj.listeners {
		select {
		case ch <- aj.progress:
		default:
		}
	}
}
