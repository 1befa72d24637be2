package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/worker"
)

type fakeDecomposer struct {
	specs []model.JobSpec
	err   error
}

func (f *fakeDecomposer) Decompose(string, model.DistributionStrategy) ([]model.JobSpec, error) {
	return f.specs, f.err
}

func newTestScheduler(t *testing.T, specs []model.JobSpec, dispatcher Dispatcher) (*Scheduler, *worker.Registry) {
	t.Helper()
	registry := worker.New(log.Nop())
	s := New(registry, &fakeDecomposer{specs: specs}, dispatcher, log.Nop())
	return s, registry
}

func TestCreateBuildEnqueuesOneJobPerSpec(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}, {Name: "b"}}
	s, _ := newTestScheduler(t, specs, nil)

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	require.Len(t, session.Jobs, 2)
	require.Equal(t, model.SessionRunning, session.State)
}

func TestProcessQueueAssignsToMatchingWorker(t *testing.T) {
	specs := []model.JobSpec{{Name: "a", RequiredCaps: model.CapCompileC}}
	s, registry := newTestScheduler(t, specs, nil)
	w := registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)
	w.Capabilities = model.CapCompileC

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	s.ProcessQueue()

	job, ok := s.Job(session.Jobs[0])
	require.True(t, ok)
	require.Equal(t, model.JobRunning, job.State)
	require.Equal(t, w.ID, job.AssignedWorker)
}

func TestProcessQueueLeavesJobPendingWithNoMatchingWorker(t *testing.T) {
	specs := []model.JobSpec{{Name: "a", RequiredCaps: model.CapCrossWasm}}
	s, registry := newTestScheduler(t, specs, nil)
	w := registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)
	w.Capabilities = model.CapCompileC

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	s.ProcessQueue()

	job, ok := s.Job(session.Jobs[0])
	require.True(t, ok)
	require.Equal(t, model.JobPending, job.State)
}

func TestReportJobResultFinalizesSessionWhenAllJobsTerminal(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}}
	s, registry := newTestScheduler(t, specs, nil)
	w := registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)
	w.Capabilities = 0

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	s.ProcessQueue()

	jobID := session.Jobs[0]
	require.NoError(t, s.ReportJobResult(jobID, &model.BuildResult{Success: true}))

	got, _ := s.Session(session.BuildID)
	require.Equal(t, model.SessionCompleted, got.State)
	require.True(t, got.Success)
}

func TestReportJobFailureMarksSessionFailed(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}}
	s, registry := newTestScheduler(t, specs, nil)
	registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	s.ProcessQueue()

	jobID := session.Jobs[0]
	require.NoError(t, s.ReportJobFailure(jobID, "compile error"))

	got, _ := s.Session(session.BuildID)
	require.Equal(t, model.SessionFailed, got.State)
	require.False(t, got.Success)
}

func TestHandleWorkerDisconnectReturnsRunningJobsToPending(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}}
	s, registry := newTestScheduler(t, specs, nil)
	w := registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	s.ProcessQueue()

	s.HandleWorkerDisconnect(w.ID)

	job, _ := s.Job(session.Jobs[0])
	require.Equal(t, model.JobPending, job.State)
	require.Empty(t, job.AssignedWorker)
}

func TestCancelBuildCancelsNonTerminalJobs(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}, {Name: "b"}}
	s, _ := newTestScheduler(t, specs, nil)

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 60)
	require.NoError(t, err)
	require.NoError(t, s.CancelBuild(session.BuildID, "user requested"))

	got, _ := s.Session(session.BuildID)
	require.Equal(t, model.SessionCancelled, got.State)
	for _, jobID := range got.Jobs {
		job, _ := s.Job(jobID)
		require.Equal(t, model.JobCancelled, job.State)
	}
}

func TestCheckTimeoutsRetriesThenFailsAfterCap(t *testing.T) {
	specs := []model.JobSpec{{Name: "a"}}
	s, registry := newTestScheduler(t, specs, nil)
	registry.Register("w1", "host1", model.SystemInfo{CPUCores: 2}, nil)

	session, err := s.CreateBuild("/proj", model.StrategyCompileUnits, 1)
	require.NoError(t, err)
	s.ProcessQueue()

	job, _ := s.Job(session.Jobs[0])
	for i := 0; i <= maxJobRetries; i++ {
		job.AssignedAt = time.Now().Add(-time.Hour)
		job.State = model.JobRunning
		s.CheckTimeouts()
		if job.State == model.JobFailed {
			break
		}
		s.ProcessQueue()
	}
	require.Equal(t, model.JobFailed, job.State)
}
