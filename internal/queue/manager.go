// Package queue implements the queue manager (component E): an in-memory
// state machine over jobs backed by a durable store, a bounded worker
// pool, progress streaming, and crash recovery. It dispatches claimed jobs
// to a processor.Dispatcher.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/maauso/mediaqueue/internal/observability"
	"github.com/maauso/mediaqueue/internal/pathsafety"
	"github.com/maauso/mediaqueue/internal/pathsafety/erase"
	"github.com/maauso/mediaqueue/internal/queue/processor"
	"github.com/maauso/mediaqueue/internal/store"
)

var submissionValidator = validator.New()

// Config is fixed at construction and never persisted.
type Config struct {
	MaxConcurrent int
	AutoStart     bool
	StagingRoot   string

	// SecureErase, when true, makes job-file cleanup on Remove/ClearAll/
	// ClearCompleted overwrite each file before unlinking it (see
	// internal/pathsafety/erase). Otherwise a plain unlink is used.
	SecureErase bool
}

// ResultArchiver pushes a completed job's result video to durable
// off-host storage. Implemented by internal/store/archive.Archiver;
// optional — a Manager with no archiver configured skips this step.
type ResultArchiver interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
}

// Errors surfaced to callers of the public operations.
var (
	ErrJobNotFound             = errors.New("queue: job not found")
	ErrProcessingRequiresForce = errors.New("queue: removing a processing job requires force=true")
)

// Submission is the externally supplied job descriptor.
type Submission struct {
	File     store.File
	Metadata store.Metadata
}

// Manager is the queue's single authoritative owner of the in-memory job
// map. Construct one instance per process (spec §9, ambient singleton
// redesign) and pass it explicitly to callers.
type Manager struct {
	cfg        Config
	store      store.Store
	dispatcher *processor.Dispatcher
	logger     *slog.Logger
	broadcast  *broadcaster
	archiver   ResultArchiver

	mu         sync.Mutex
	jobs       map[string]*store.Job
	processing map[string]context.CancelFunc
	paused     bool
}

// New constructs a Manager. Recover must be called before accepting
// submissions.
func New(cfg Config, st store.Store, dispatcher *processor.Dispatcher, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
		broadcast:  newBroadcaster(),
		jobs:       make(map[string]*store.Job),
		processing: make(map[string]context.CancelFunc),
	}
}

// WithArchiver enables result archival: on successful completion the
// output video is uploaded via archiver, keyed by job id. Pass nil to
// disable (the default).
func (m *Manager) WithArchiver(archiver ResultArchiver) *Manager {
	m.archiver = archiver
	return m
}

// Subscribe registers an observer for Update events.
func (m *Manager) Subscribe() (<-chan Update, func()) {
	return m.broadcast.Subscribe()
}

// Recover loads all jobs from the store, fails over any job caught
// mid-processing, requeues it at the head with an incremented retry
// count, and forces the queue into the paused state if any work remains
// (spec §4.E recovery procedure; must run before Start accepts work).
func (m *Manager) Recover(ctx context.Context) error {
	n, err := m.store.MarkInterruptedAsFailed(ctx)
	if err != nil {
		return fmt.Errorf("queue: recover: mark interrupted: %w", err)
	}

	all, err := m.store.LoadAllJobs(ctx)
	if err != nil {
		return fmt.Errorf("queue: recover: load all jobs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs = make(map[string]*store.Job, len(all))
	var earliestPending time.Time
	hasPending := false
	for i := range all {
		j := all[i]
		m.jobs[j.ID] = &j
		if j.Status == store.StatusPending {
			if !hasPending || j.CreatedAt.Before(earliestPending) {
				earliestPending = j.CreatedAt
				hasPending = true
			}
		}
	}

	if n > 0 {
		requeueAt := earliestPending.Add(-time.Millisecond)
		if !hasPending {
			requeueAt = time.Now().Add(-time.Millisecond)
		}
		for _, j := range m.jobs {
			if j.FailureReason == store.FailureCrash && j.Status == store.StatusFailed {
				j.Status = store.StatusPending
				j.RetryCount++
				j.Error = ""
				j.CompletedAt = time.Time{}
				j.Progress = 0
				j.CreatedAt = requeueAt
				requeueAt = requeueAt.Add(-time.Millisecond)
				if err := m.store.SaveJob(ctx, *j); err != nil {
					return fmt.Errorf("queue: recover: requeue %s: %w", j.ID, err)
				}
			}
		}
	}

	for _, j := range m.jobs {
		if j.Status != store.StatusPending || j.Metadata.Validate() == nil {
			continue
		}
		j.Status = store.StatusFailed
		j.FailureReason = store.FailureUnknown
		j.Error = fmt.Sprintf("unknown job kind: %s", j.Metadata.Kind)
		j.CompletedAt = time.Now()
		if err := m.store.SaveJob(ctx, *j); err != nil {
			return fmt.Errorf("queue: recover: fail unknown kind %s: %w", j.ID, err)
		}
	}

	paused, err := m.store.GetFlag(ctx, store.FlagPaused)
	if err != nil {
		return fmt.Errorf("queue: recover: get paused flag: %w", err)
	}
	outstanding := len(m.jobs) > 0 && m.hasOutstandingWorkLocked()
	if outstanding && !paused {
		paused = true
		if err := m.store.SetFlag(ctx, store.FlagPaused, true); err != nil {
			return fmt.Errorf("queue: recover: force pause: %w", err)
		}
	}
	m.paused = paused
	m.updateQueueDepthLocked()

	m.logger.Info("queue recovered", "jobs", len(m.jobs), "crashed", n, "paused", m.paused)
	return nil
}

func (m *Manager) hasOutstandingWorkLocked() bool {
	for _, j := range m.jobs {
		if j.Status == store.StatusPending || j.Status == store.StatusProcessing {
			return true
		}
	}
	return false
}

// updateQueueDepthLocked refreshes the per-status queue depth gauge. Callers
// must hold m.mu.
func (m *Manager) updateQueueDepthLocked() {
	counts := map[store.Status]int{
		store.StatusPending:    0,
		store.StatusProcessing: 0,
		store.StatusCompleted:  0,
		store.StatusFailed:     0,
	}
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	for status, n := range counts {
		observability.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Start claims whatever pending work current capacity allows. Call it
// once after Recover to kick off processing of jobs loaded from the
// store; subsequent claims are triggered by Submit/Retry/Resume/etc.
func (m *Manager) Start(ctx context.Context) {
	m.schedule(ctx)
}

// Submit assigns an id, persists the job, adds it to the in-memory map,
// and triggers the scheduler. Submissions are validated before anything is
// persisted: a malformed File or Metadata is rejected outright.
func (m *Manager) Submit(ctx context.Context, sub Submission) (store.Job, error) {
	if sub.File != (store.File{}) {
		if err := submissionValidator.Struct(sub.File); err != nil {
			return store.Job{}, fmt.Errorf("queue: submit: invalid file: %w", err)
		}
	}
	if err := sub.Metadata.Validate(); err != nil {
		return store.Job{}, fmt.Errorf("queue: submit: invalid metadata: %w", err)
	}

	job := store.Job{
		ID:        uuid.NewString(),
		Status:    store.StatusPending,
		File:      sub.File,
		Metadata:  sub.Metadata,
		CreatedAt: time.Now(),
	}

	if err := m.store.SaveJob(ctx, job); err != nil {
		return store.Job{}, fmt.Errorf("queue: submit: %w", err)
	}

	m.mu.Lock()
	m.jobs[job.ID] = &job
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	m.broadcast.Publish(Update{Kind: UpdateJobAdded, JobID: job.ID})
	if m.cfg.AutoStart {
		m.schedule(ctx)
	}
	return job, nil
}

// GetAllJobs returns a snapshot ordered by CreatedAt ascending (FIFO,
// spec invariant 7).
func (m *Manager) GetAllJobs() []store.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// GetJob returns a single job by id.
func (m *Manager) GetJob(id string) (store.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.Job{}, false
	}
	return j.Clone(), true
}

// Pause sets the paused flag; no further pending→processing transitions
// occur until Resume.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	if err := m.store.SetFlag(ctx, store.FlagPaused, true); err != nil {
		return fmt.Errorf("queue: pause: %w", err)
	}
	m.broadcast.Publish(Update{Kind: UpdatePaused})
	return nil
}

// Resume clears the paused flag and re-examines the queue.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	if err := m.store.SetFlag(ctx, store.FlagPaused, false); err != nil {
		return fmt.Errorf("queue: resume: %w", err)
	}
	m.broadcast.Publish(Update{Kind: UpdateResumed})
	m.schedule(ctx)
	return nil
}

// IsPaused reports the current pause state.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Retry transitions a failed job back to pending, incrementing retryCount.
// It is a no-op (returns false) for any job not currently failed.
func (m *Manager) Retry(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrJobNotFound
	}
	if job.Status != store.StatusFailed {
		m.mu.Unlock()
		return false, nil
	}
	if !canTransition(job.Status, store.StatusPending) {
		m.mu.Unlock()
		return false, nil
	}
	job.Status = store.StatusPending
	job.RetryCount++
	job.Error = ""
	job.FailureReason = store.FailureNone
	job.CompletedAt = time.Time{}
	job.Progress = 0
	snapshot := job.Clone()
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	if err := m.store.SaveJob(ctx, snapshot); err != nil {
		return false, fmt.Errorf("queue: retry %s: %w", id, err)
	}
	m.broadcast.Publish(Update{Kind: UpdateJobUpdated, JobID: id})
	m.schedule(ctx)
	return true, nil
}

// CancelCurrent transitions a processing job back to pending (user
// cancel, not a failure) and signals its worker to tear down.
func (m *Manager) CancelCurrent(ctx context.Context, id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != store.StatusProcessing {
		m.mu.Unlock()
		return nil
	}
	cancel, hasCancel := m.processing[id]
	job.Status = store.StatusPending
	job.StartedAt = time.Time{}
	snapshot := job.Clone()
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	if hasCancel {
		cancel()
	}
	if err := m.store.SaveJob(ctx, snapshot); err != nil {
		return fmt.Errorf("queue: cancel %s: %w", id, err)
	}
	m.broadcast.Publish(Update{Kind: UpdateJobUpdated, JobID: id})
	m.schedule(ctx)
	return nil
}

// Remove deletes a job. Removing a processing job requires force=true;
// forcing ends the worker's claim and its later completion is a no-op.
func (m *Manager) Remove(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status == store.StatusProcessing && !force {
		m.mu.Unlock()
		return ErrProcessingRequiresForce
	}
	snapshot := job.Clone()
	cancel, hasCancel := m.processing[id]
	delete(m.jobs, id)
	delete(m.processing, id)
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	if hasCancel {
		cancel()
	}
	if _, err := m.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	m.eraseJobFiles(snapshot)
	m.broadcast.Publish(Update{Kind: UpdateJobRemoved, JobID: id})
	m.schedule(ctx)
	return nil
}

// eraseJobFiles unlinks a removed job's input and output artifacts,
// overwriting them first when m.cfg.SecureErase is set. Each path must pass
// the path-safety gate for m.cfg.StagingRoot; a rejected path is skipped.
// Failures are logged, not returned: a file already gone or outside the
// staging root must not block the job's removal.
func (m *Manager) eraseJobFiles(job store.Job) {
	paths := []string{job.File.StagingPath, job.Result.OutputVideoPath, job.Result.OutputSubtitlePath}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !pathsafety.IsSafe(p, m.cfg.StagingRoot) {
			m.logger.Warn("erase job file skipped: path rejected by path-safety gate", "job", job.ID, "path", p)
			continue
		}
		if err := erase.Unlink(p, m.cfg.SecureErase); err != nil {
			m.logger.Error("erase job file failed", "job", job.ID, "path", p, "err", err)
		}
	}
}

// ClearCompleted removes every completed and failed job.
func (m *Manager) ClearCompleted(ctx context.Context) (int, error) {
	return m.clearMatching(ctx, func(j *store.Job) bool {
		return j.Status == store.StatusCompleted || j.Status == store.StatusFailed
	})
}

// ClearAll removes everything except jobs currently processing.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	return m.clearMatching(ctx, func(j *store.Job) bool {
		return j.Status != store.StatusProcessing
	})
}

func (m *Manager) clearMatching(ctx context.Context, match func(*store.Job) bool) (int, error) {
	m.mu.Lock()
	var removed []store.Job
	for id, j := range m.jobs {
		if match(j) {
			removed = append(removed, j.Clone())
		}
	}
	for _, j := range removed {
		delete(m.jobs, j.ID)
	}
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	for _, j := range removed {
		if _, err := m.store.DeleteJob(ctx, j.ID); err != nil {
			return 0, fmt.Errorf("queue: clear: delete %s: %w", j.ID, err)
		}
		m.eraseJobFiles(j)
	}
	if len(removed) > 0 {
		m.broadcast.Publish(Update{Kind: UpdateBulkCleared})
	}
	return len(removed), nil
}

// EstimatedTimeRemaining computes (pendingCount*avgDuration) +
// (processingCount*avgDuration*0.5), averaged over completed jobs'
// completedAt-startedAt. Returns (0, false) if no completed job exists.
func (m *Manager) EstimatedTimeRemaining() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	var n int
	var pending, processing int
	for _, j := range m.jobs {
		switch j.Status {
		case store.StatusCompleted:
			if !j.StartedAt.IsZero() && !j.CompletedAt.IsZero() {
				total += j.CompletedAt.Sub(j.StartedAt)
				n++
			}
		case store.StatusPending:
			pending++
		case store.StatusProcessing:
			processing++
		}
	}
	if n == 0 {
		return 0, false
	}
	avg := total / time.Duration(n)
	estimate := time.Duration(pending)*avg + time.Duration(float64(processing)*float64(avg)*0.5)
	return estimate, true
}

// schedule claims oldest-pending jobs up to MaxConcurrent while unpaused,
// spawning a worker goroutine per claim. It is safe to call repeatedly;
// each call only claims what current capacity allows.
func (m *Manager) schedule(ctx context.Context) {
	for {
		job, workerCtx, cancel, ok := m.claimNext(ctx)
		if !ok {
			return
		}
		go m.runWorker(workerCtx, cancel, job)
	}
}

func (m *Manager) claimNext(ctx context.Context) (store.Job, context.Context, context.CancelFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused || len(m.processing) >= m.cfg.MaxConcurrent {
		return store.Job{}, nil, nil, false
	}

	var oldest *store.Job
	for _, j := range m.jobs {
		if j.Status != store.StatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return store.Job{}, nil, nil, false
	}

	oldest.Status = store.StatusProcessing
	oldest.StartedAt = time.Now()
	workerCtx, cancel := context.WithCancel(ctx)
	m.processing[oldest.ID] = cancel
	m.updateQueueDepthLocked()
	return oldest.Clone(), workerCtx, cancel, true
}

// runWorker executes the claimed job outside the lock, writing every
// mutation through the store before announcing it to observers.
func (m *Manager) runWorker(ctx context.Context, cancel context.CancelFunc, job store.Job) {
	defer cancel()

	if err := m.store.SaveJob(ctx, job); err != nil {
		m.logger.Error("save job on claim failed", "job", job.ID, "err", err)
	}
	m.broadcast.Publish(Update{Kind: UpdateJobUpdated, JobID: job.ID})

	onProgress := func(percent int) {
		m.mu.Lock()
		current, ok := m.jobs[job.ID]
		if !ok || current.Status != store.StatusProcessing {
			m.mu.Unlock()
			return
		}
		current.Progress = percent
		m.mu.Unlock()

		if err := m.store.UpdateStatus(context.Background(), job.ID, store.StatusProcessing, percent); err != nil {
			m.logger.Error("progress write-through failed", "job", job.ID, "err", err)
			return
		}
		m.broadcast.Publish(Update{Kind: UpdateJobUpdated, JobID: job.ID})
	}

	result, procErr := m.dispatcher.Process(ctx, job, m.cfg.StagingRoot, onProgress)

	m.mu.Lock()
	current, stillPresent := m.jobs[job.ID]
	delete(m.processing, job.ID)
	if !stillPresent {
		// Removed (forced) while processing: completion is a no-op.
		m.mu.Unlock()
		m.schedule(context.Background())
		return
	}
	if current.Status != store.StatusProcessing {
		// Cancelled back to pending while processing: do not overwrite.
		m.mu.Unlock()
		m.schedule(context.Background())
		return
	}

	now := time.Now()
	if procErr != nil {
		current.Status = store.StatusFailed
		current.Error = procErr.Error()
		current.FailureReason = store.FailureAPIError
		current.CompletedAt = now
	} else {
		current.Status = store.StatusCompleted
		current.Progress = 100
		current.Result = result
		current.CompletedAt = now
	}
	snapshot := current.Clone()
	m.updateQueueDepthLocked()
	m.mu.Unlock()

	observability.JobsTotal.WithLabelValues(string(snapshot.Status)).Inc()
	if !snapshot.StartedAt.IsZero() {
		observability.JobDuration.Observe(now.Sub(snapshot.StartedAt).Seconds())
	}

	if m.archiver != nil && snapshot.Status == store.StatusCompleted && snapshot.Result.OutputVideoPath != "" {
		url, err := m.archiver.Upload(context.Background(), snapshot.ID, snapshot.Result.OutputVideoPath)
		if err != nil {
			m.logger.Error("result archival failed", "job", snapshot.ID, "err", err)
		} else {
			snapshot.Result.ArchiveURL = url
			m.mu.Lock()
			if j, ok := m.jobs[snapshot.ID]; ok && j.Status == store.StatusCompleted {
				j.Result.ArchiveURL = url
			}
			m.mu.Unlock()
			if err := m.store.SaveJob(context.Background(), snapshot); err != nil {
				m.logger.Error("save job after archival failed", "job", snapshot.ID, "err", err)
			}
		}
	}

	if err := m.store.SaveJob(context.Background(), snapshot); err != nil {
		m.logger.Error("save job on completion failed", "job", job.ID, "err", err)
	}
	m.broadcast.Publish(Update{Kind: UpdateJobUpdated, JobID: job.ID})

	m.schedule(context.Background())
}
