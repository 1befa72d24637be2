package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

func TestRegisterAssignsMaxJobsFromCPUCores(t *testing.T) {
	r := New(log.Nop())
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 8}, nil)
	require.Equal(t, model.Online, w.State)
	require.Equal(t, 8, w.MaxJobs)
	require.NotEmpty(t, w.ID)
}

func TestHeartbeatClearsMissedCountAndMergesStats(t *testing.T) {
	r := New(log.Nop())
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 4}, nil)
	w.MissedHeartbeats = 2

	ok := r.Heartbeat(w.ID, &model.SystemInfo{CPUUsage: 0.5, MemoryUsage: 0.25})
	require.True(t, ok)
	require.Equal(t, 0, w.MissedHeartbeats)
	require.Equal(t, 0.5, w.SystemInfo.CPUUsage)
}

func TestCheckHeartbeatsTransitionsToOfflineAfterMaxMissed(t *testing.T) {
	var transitioned *model.RemoteWorker
	r := New(log.Nop(),
		WithHeartbeatTimeout(time.Millisecond),
		WithMaxMissedHeartbeats(2),
		WithStateChangeCallback(func(w *model.RemoteWorker, from, to model.WorkerState) {
			transitioned = w
		}),
	)
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 2}, nil)
	w.LastHeartbeat = time.Now().Add(-time.Hour)

	r.CheckHeartbeats()
	require.Equal(t, 1, w.MissedHeartbeats)
	require.Equal(t, model.Online, w.State)

	r.CheckHeartbeats()
	require.Equal(t, model.Offline, w.State)
	require.Same(t, w, transitioned)
}

func TestUpdateJobCountFlipsOnlineBusyAtCapacity(t *testing.T) {
	r := New(log.Nop())
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 2}, nil)

	require.True(t, r.UpdateJobCount(w.ID, 2))
	require.Equal(t, model.Busy, w.State)

	require.True(t, r.UpdateJobCount(w.ID, -1))
	require.Equal(t, model.Online, w.State)
}

func TestSelectExcludesWorkersMissingRequiredCapabilities(t *testing.T) {
	r := New(log.Nop())
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 4}, nil)
	w.Capabilities = model.CapCompileC

	_, ok := r.Select(model.SelectionCriteria{Required: model.CapCompileRust})
	require.False(t, ok)

	w.Capabilities = model.CapCompileC | model.CapCompileRust
	got, ok := r.Select(model.SelectionCriteria{Required: model.CapCompileRust})
	require.True(t, ok)
	require.Equal(t, w.ID, got.ID)
}

func TestSelectExcludesWorkersWithoutAvailableSlots(t *testing.T) {
	r := New(log.Nop())
	w := r.Register("worker-a", "host-a", model.SystemInfo{CPUCores: 1}, nil)
	w.ActiveJobs = 1
	w.State = model.Busy

	_, ok := r.Select(model.SelectionCriteria{SlotsNeeded: 1})
	require.False(t, ok)
}

func TestSelectManyOrdersByDescendingScore(t *testing.T) {
	r := New(log.Nop())
	low := r.Register("low", "host-low", model.SystemInfo{CPUCores: 4, CPUUsage: 0.9, MemoryUsage: 0.9}, nil)
	high := r.Register("high", "host-high", model.SystemInfo{CPUCores: 4, CPUUsage: 0.1, MemoryUsage: 0.1}, nil)
	low.HealthScore = 0.1
	high.HealthScore = 0.9

	ranked := r.SelectMany(model.SelectionCriteria{}, 2)
	require.Len(t, ranked, 2)
	require.Equal(t, high.ID, ranked[0].ID)
	require.Equal(t, low.ID, ranked[1].ID)
}
