// Package scheduler implements the Scheduler: the work
// queue of ScheduledJobs and the build_id -> BuildSession table that drives
// distributed execution across the worker registry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/worker"
)

// maxJobRetries bounds how many times a timed-out job is re-enqueued before
// it is surfaced as a terminal failure.
const maxJobRetries = 3

// Decomposer splits a project into the JobSpecs a DistributionStrategy
// implies. A real implementation inspects the project's build graph; this
// package only consumes the interface.
type Decomposer interface {
	Decompose(projectPath string, strategy model.DistributionStrategy) ([]model.JobSpec, error)
}

// Dispatcher sends a JobRequest to a worker over its live connection. The
// coordinator supplies the concrete implementation.
type Dispatcher interface {
	SendJobRequest(worker *model.RemoteWorker, job *model.ScheduledJob) error
}

// Persister durably records session/job state transitions so a coordinator
// restart can repopulate the in-memory queue via Restore. The scheduler
// works unmodified with none configured.
type Persister interface {
	SaveSession(ctx context.Context, session *model.BuildSession) error
	SaveJob(ctx context.Context, job *model.ScheduledJob) error
}

// Scheduler owns the job queue and build session table.
type Scheduler struct {
	mu         sync.Mutex
	jobs       map[string]*model.ScheduledJob
	queue      []string // job IDs, FIFO
	sessions   map[string]*model.BuildSession
	registry   *worker.Registry
	decomposer Decomposer
	dispatcher Dispatcher
	persister  Persister
	log        log.Logger
}

// New builds an empty Scheduler.
func New(registry *worker.Registry, decomposer Decomposer, dispatcher Dispatcher, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		jobs:       make(map[string]*model.ScheduledJob),
		sessions:   make(map[string]*model.BuildSession),
		registry:   registry,
		decomposer: decomposer,
		dispatcher: dispatcher,
		log:        logger,
	}
}

// SetDispatcher wires the dispatcher after construction, for the common case
// where the dispatcher (the Coordinator) itself needs a reference to this
// Scheduler to be built first.
func (s *Scheduler) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// SetPersister wires a durable store after construction. Once set, session
// and job state transitions are persisted as they happen.
func (s *Scheduler) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Restore repopulates the in-memory queue from previously persisted state.
// Non-terminal jobs are re-enqueued as Pending: whatever worker they were
// assigned to before the restart is assumed gone.
func (s *Scheduler) Restore(session *model.BuildSession, jobs []*model.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.BuildID] = session
	for _, job := range jobs {
		s.jobs[job.JobID] = job
		if !job.State.IsTerminal() {
			job.State = model.JobPending
			job.AssignedWorker = ""
			s.queue = append(s.queue, job.JobID)
		}
	}
}

// persistSession saves session's current state if a Persister is configured,
// logging rather than failing the caller on error: persistence is best-effort
// and never blocks the in-memory scheduling path.
func (s *Scheduler) persistSession(session *model.BuildSession) {
	if s.persister == nil || session == nil {
		return
	}
	cp := *session
	if err := s.persister.SaveSession(context.Background(), &cp); err != nil {
		s.log.Warnw("failed to persist build session", "build_id", cp.BuildID, "error", err)
	}
}

func (s *Scheduler) persistJob(job *model.ScheduledJob) {
	if s.persister == nil || job == nil {
		return
	}
	cp := *job
	if err := s.persister.SaveJob(context.Background(), &cp); err != nil {
		s.log.Warnw("failed to persist scheduled job", "job_id", cp.JobID, "error", err)
	}
}

// CreateBuild decomposes projectPath per strategy and enqueues the resulting
// jobs under a new BuildSession.
func (s *Scheduler) CreateBuild(projectPath string, strategy model.DistributionStrategy, timeoutSec int) (*model.BuildSession, error) {
	specs, err := s.decomposer.Decompose(projectPath, strategy)
	if err != nil {
		return nil, fmt.Errorf("scheduler: decomposing %q: %w", projectPath, err)
	}

	session := &model.BuildSession{
		BuildID:     uuid.NewString(),
		ProjectPath: projectPath,
		Strategy:    strategy,
		State:       model.SessionRunning,
		StartedAt:   time.Now(),
	}

	s.mu.Lock()
	var created []*model.ScheduledJob
	for _, spec := range specs {
		job := &model.ScheduledJob{
			JobID:       uuid.NewString(),
			BuildID:     session.BuildID,
			Spec:        spec,
			State:       model.JobPending,
			SubmittedAt: time.Now(),
			TimeoutSec:  timeoutSec,
		}
		s.jobs[job.JobID] = job
		s.queue = append(s.queue, job.JobID)
		session.Jobs = append(session.Jobs, job.JobID)
		created = append(created, job)
	}
	s.sessions[session.BuildID] = session
	s.mu.Unlock()

	s.persistSession(session)
	for _, job := range created {
		s.persistJob(job)
	}

	s.log.Infow("build session created", "build_id", session.BuildID, "jobs", len(specs))
	return session, nil
}

// ProcessQueue walks Pending jobs FIFO, assigning each to the best-scoring
// available worker and dispatching a JobRequest.
func (s *Scheduler) ProcessQueue() {
	s.mu.Lock()
	remaining := s.queue[:0:0]
	var toDispatch []*model.ScheduledJob
	var targets []*model.RemoteWorker

	for _, jobID := range s.queue {
		job, ok := s.jobs[jobID]
		if !ok || job.State != model.JobPending {
			continue
		}

		criteria := model.SelectionCriteria{
			Required:    job.Spec.RequiredCaps,
			Preferred:   job.Spec.PreferredCaps,
			SlotsNeeded: 1,
		}
		w, ok := s.registry.Select(criteria)
		if !ok {
			remaining = append(remaining, jobID)
			continue
		}

		job.State = model.JobAssigned
		job.AssignedWorker = w.ID
		job.AssignedAt = time.Now()
		s.registry.UpdateJobCount(w.ID, 1)

		toDispatch = append(toDispatch, job)
		targets = append(targets, w)
	}
	s.queue = remaining
	s.mu.Unlock()

	// Dispatching is network I/O per job; fan out concurrently rather than
	// blocking the queue pass on one slow worker connection.
	var g errgroup.Group
	for i := range toDispatch {
		job := toDispatch[i]
		w := targets[i]
		g.Go(func() error {
			if s.dispatcher == nil {
				s.markRunning(job.JobID)
				return nil
			}
			if err := s.dispatcher.SendJobRequest(w, job); err != nil {
				s.log.Warnw("failed to dispatch job, reverting to pending", "job_id", job.JobID, "error", err)
				s.revertToPending(job.JobID, w.ID)
				return nil
			}
			s.markRunning(job.JobID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) markRunning(jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok && job.State == model.JobAssigned {
		job.State = model.JobRunning
	}
	s.mu.Unlock()
	if ok {
		s.persistJob(job)
	}
}

func (s *Scheduler) revertToPending(jobID, workerID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		job.State = model.JobPending
		job.AssignedWorker = ""
		s.queue = append(s.queue, jobID)
	}
	s.mu.Unlock()
	s.registry.UpdateJobCount(workerID, -1)
	if ok {
		s.persistJob(job)
	}
}

// CheckTimeouts transitions Running jobs whose TimeoutSec has elapsed to
// TimedOut, re-enqueueing them up to maxJobRetries before they are reported
// as terminal failures.
func (s *Scheduler) CheckTimeouts() {
	now := time.Now()

	s.mu.Lock()
	var timedOut []*model.ScheduledJob
	for _, job := range s.jobs {
		if job.State != model.JobRunning || job.TimeoutSec <= 0 {
			continue
		}
		if now.Sub(job.AssignedAt) <= time.Duration(job.TimeoutSec)*time.Second {
			continue
		}
		job.State = model.JobTimedOut
		timedOut = append(timedOut, job)
	}
	s.mu.Unlock()

	for _, job := range timedOut {
		s.persistJob(job)
		workerID := job.AssignedWorker
		if workerID != "" {
			s.registry.UpdateJobCount(workerID, -1)
		}
		if job.RetryCount < maxJobRetries {
			s.mu.Lock()
			job.RetryCount++
			job.State = model.JobPending
			job.AssignedWorker = ""
			s.queue = append(s.queue, job.JobID)
			s.mu.Unlock()
			s.persistJob(job)
			continue
		}
		s.ReportJobFailure(job.JobID, "exceeded retry cap after repeated timeouts")
	}
}

// ReportJobResult records a successful completion, releases the worker's
// slot, and finalizes the owning session if every job is now terminal.
func (s *Scheduler) ReportJobResult(jobID string, result *model.BuildResult) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown job %q", jobID)
	}
	job.State = model.JobCompleted
	job.Result = result
	job.FinishedAt = time.Now()
	workerID := job.AssignedWorker
	session := s.sessions[job.BuildID]
	if session != nil {
		session.CompletedJobs++
	}
	s.mu.Unlock()

	s.persistJob(job)
	if workerID != "" {
		s.registry.UpdateJobCount(workerID, -1)
	}
	s.maybeFinalize(job.BuildID)
	return nil
}

// ReportJobFailure records a failed completion, releases the worker's slot,
// and finalizes the owning session if every job is now terminal.
func (s *Scheduler) ReportJobFailure(jobID string, reason string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown job %q", jobID)
	}
	job.State = model.JobFailed
	job.FailureReason = reason
	job.FinishedAt = time.Now()
	workerID := job.AssignedWorker
	session := s.sessions[job.BuildID]
	if session != nil {
		session.FailedJobs++
	}
	s.mu.Unlock()

	s.persistJob(job)
	if workerID != "" {
		s.registry.UpdateJobCount(workerID, -1)
	}
	s.maybeFinalize(job.BuildID)
	return nil
}

func (s *Scheduler) maybeFinalize(buildID string) {
	s.mu.Lock()
	session, ok := s.sessions[buildID]
	if !ok || session.State != model.SessionRunning {
		s.mu.Unlock()
		return
	}

	for _, jobID := range session.Jobs {
		job, ok := s.jobs[jobID]
		if !ok || !job.State.IsTerminal() {
			s.mu.Unlock()
			return
		}
	}

	session.CompletedAt = time.Now()
	if session.FailedJobs == 0 {
		session.State = model.SessionCompleted
		session.Success = true
	} else {
		session.State = model.SessionFailed
		session.ErrorSummary = fmt.Sprintf("%d of %d jobs failed", session.FailedJobs, len(session.Jobs))
	}
	s.mu.Unlock()
	s.persistSession(session)
}

// HandleWorkerDisconnect returns any Running job assigned to workerID back
// to Pending.
func (s *Scheduler) HandleWorkerDisconnect(workerID string) {
	s.mu.Lock()
	var reverted []*model.ScheduledJob
	for _, job := range s.jobs {
		if job.AssignedWorker == workerID && job.State == model.JobRunning {
			job.State = model.JobPending
			job.AssignedWorker = ""
			s.queue = append(s.queue, job.JobID)
			reverted = append(reverted, job)
		}
	}
	s.mu.Unlock()
	for _, job := range reverted {
		s.persistJob(job)
	}
}

// CancelBuild cancels every non-terminal job belonging to buildID.
func (s *Scheduler) CancelBuild(buildID, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[buildID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown build %q", buildID)
	}
	var cancelled []*model.ScheduledJob
	for _, jobID := range session.Jobs {
		job, ok := s.jobs[jobID]
		if !ok || job.State.IsTerminal() {
			continue
		}
		job.State = model.JobCancelled
		job.FinishedAt = time.Now()
		cancelled = append(cancelled, job)
	}
	session.State = model.SessionCancelled
	session.CompletedAt = time.Now()
	session.ErrorSummary = reason
	s.mu.Unlock()

	s.persistSession(session)
	for _, job := range cancelled {
		s.persistJob(job)
	}
	return nil
}

// Session returns the BuildSession by id.
func (s *Scheduler) Session(buildID string) (*model.BuildSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[buildID]
	return session, ok
}

// Job returns the ScheduledJob by id.
func (s *Scheduler) Job(jobID string) (*model.ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}
