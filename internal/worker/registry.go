// Package worker implements the Worker Registry: the
// coordinator's thread-safe table of connected RemoteWorkers, their health
// scoring, and capability-aware selection.
package worker

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

// defaultMaxMissedHeartbeats is how many consecutive missed beats push a
// worker to Offline.
const defaultMaxMissedHeartbeats = 3

// StateChangeFunc is invoked whenever check_heartbeats transitions a worker
// to Offline.
type StateChangeFunc func(worker *model.RemoteWorker, from, to model.WorkerState)

// Registry is the coordinator's live worker table.
type Registry struct {
	mu                  sync.RWMutex
	workers             map[string]*model.RemoteWorker
	heartbeatTimeout    time.Duration
	maxMissedHeartbeats int
	onStateChanged      StateChangeFunc
	log                 log.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithHeartbeatTimeout overrides the default 30s heartbeat timeout.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) { r.heartbeatTimeout = d }
}

// WithMaxMissedHeartbeats overrides the default of 3 missed beats.
func WithMaxMissedHeartbeats(n int) Option {
	return func(r *Registry) { r.maxMissedHeartbeats = n }
}

// WithStateChangeCallback sets the hook invoked on Offline transitions.
func WithStateChangeCallback(fn StateChangeFunc) Option {
	return func(r *Registry) { r.onStateChanged = fn }
}

// New builds an empty Registry.
func New(logger log.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Registry{
		workers:             make(map[string]*model.RemoteWorker),
		heartbeatTimeout:    30 * time.Second,
		maxMissedHeartbeats: defaultMaxMissedHeartbeats,
		log:                 logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register admits a new worker, assigning it an id and max_jobs from its
// reported cpu_cores.
func (r *Registry) Register(name, hostname string, sysInfo model.SystemInfo, connection interface{}) *model.RemoteWorker {
	maxJobs := sysInfo.CPUCores
	if maxJobs <= 0 {
		maxJobs = 1
	}

	w := &model.RemoteWorker{
		ID:          uuid.NewString(),
		Name:        name,
		Hostname:    hostname,
		State:       model.Online,
		SystemInfo:  sysInfo,
		Connection:  connection,
		ConnectedAt: time.Now(),
		MaxJobs:     maxJobs,
	}
	w.LastHeartbeat = w.ConnectedAt
	w.HealthScore = calculateHealth(w)

	r.mu.Lock()
	r.workers[w.ID] = w
	r.mu.Unlock()

	r.log.Infow("worker registered", "worker_id", w.ID, "max_jobs", maxJobs)
	return w
}

// Heartbeat refreshes worker's liveness and merges any updated dynamic
// stats, then recomputes its health score.
func (r *Registry) Heartbeat(workerID string, updated *model.SystemInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	w.LastHeartbeat = time.Now()
	w.MissedHeartbeats = 0
	if updated != nil {
		w.SystemInfo.CPUUsage = updated.CPUUsage
		w.SystemInfo.MemoryUsage = updated.MemoryUsage
		w.SystemInfo.DiskFreeMB = updated.DiskFreeMB
	}
	w.HealthScore = calculateHealth(w)
	return true
}

// CheckHeartbeats walks every worker, incrementing missed_heartbeats for
// anyone past the timeout and transitioning to Offline once the bound is
// crossed.
func (r *Registry) CheckHeartbeats() {
	now := time.Now()

	r.mu.Lock()
	var transitioned []*model.RemoteWorker
	var froms []model.WorkerState
	for _, w := range r.workers {
		if w.State == model.Offline {
			continue
		}
		if now.Sub(w.LastHeartbeat) <= r.heartbeatTimeout {
			continue
		}
		w.MissedHeartbeats++
		if w.MissedHeartbeats >= r.maxMissedHeartbeats {
			from := w.State
			w.State = model.Offline
			transitioned = append(transitioned, w)
			froms = append(froms, from)
		}
	}
	r.mu.Unlock()

	for i, w := range transitioned {
		r.log.Warnw("worker transitioned offline", "worker_id", w.ID, "missed_heartbeats", w.MissedHeartbeats)
		if r.onStateChanged != nil {
			r.onStateChanged(w, froms[i], model.Offline)
		}
	}
}

// UpdateJobCount adjusts active_jobs by delta and flips Online/Busy at the
// capacity edge.
func (r *Registry) UpdateJobCount(workerID string, delta int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	w.ActiveJobs += delta
	if w.ActiveJobs < 0 {
		w.ActiveJobs = 0
	}
	if w.ActiveJobs > w.MaxJobs {
		w.ActiveJobs = w.MaxJobs
	}

	if w.State == model.Online || w.State == model.Busy {
		if w.ActiveJobs >= w.MaxJobs {
			w.State = model.Busy
		} else {
			w.State = model.Online
		}
	}
	return true
}

// Get returns the worker by id.
func (r *Registry) Get(id string) (*model.RemoteWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// All returns a snapshot of every registered worker.
func (r *Registry) All() []*model.RemoteWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.RemoteWorker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// calculateHealth implements the weighted health formula.
func calculateHealth(w *model.RemoteWorker) float64 {
	totalJobs := w.TotalCompleted + w.TotalFailed
	successRate := 1.0
	if totalJobs > 0 {
		successRate = float64(w.TotalCompleted) / float64(totalJobs)
	}

	latencyScore := 1 - minF(w.NetworkLatencyMs/1000, 1)
	loadScore := 1 - (w.SystemInfo.CPUUsage+w.SystemInfo.MemoryUsage)/2
	heartbeatScore := 1 - minF(float64(w.MissedHeartbeats)/3, 1)
	uptimeHours := time.Since(w.ConnectedAt).Hours()
	uptimeScore := minF(uptimeHours/24, 1)

	return 0.3*successRate + 0.2*latencyScore + 0.2*loadScore + 0.2*heartbeatScore + 0.1*uptimeScore
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Select scores every Online|Busy worker with available slots and returns
// the best match, or false if none clears the required-capability/slot
// bar.
func (r *Registry) Select(criteria model.SelectionCriteria) (*model.RemoteWorker, bool) {
	candidates := r.scoreCandidates(criteria)
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if candidates[0].score < 0 {
		return nil, false
	}
	return candidates[0].worker, true
}

// SelectMany scores every candidate and returns the top k by descending
// score.
func (r *Registry) SelectMany(criteria model.SelectionCriteria, k int) []*model.RemoteWorker {
	candidates := r.scoreCandidates(criteria)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	out := make([]*model.RemoteWorker, 0, k)
	for _, c := range candidates {
		if c.score < 0 || len(out) >= k {
			break
		}
		out = append(out, c.worker)
	}
	return out
}

type scored struct {
	worker *model.RemoteWorker
	score  float64
}

func (r *Registry) scoreCandidates(criteria model.SelectionCriteria) []scored {
	slotsNeeded := criteria.SlotsNeeded
	if slotsNeeded <= 0 {
		slotsNeeded = 1
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]scored, 0, len(r.workers))
	for _, w := range r.workers {
		if w.State != model.Online && w.State != model.Busy {
			continue
		}
		available := w.MaxJobs - w.ActiveJobs
		if !w.Capabilities.Has(criteria.Required) || available < slotsNeeded {
			out = append(out, scored{worker: w, score: -1})
			continue
		}

		score := w.HealthScore
		if criteria.Preferred != 0 {
			matched := bits(w.Capabilities & criteria.Preferred)
			total := bits(criteria.Preferred)
			if total > 0 {
				score += 0.2 * float64(matched) / float64(total)
			}
		}
		if criteria.PreferIdle {
			load := 0.0
			if w.MaxJobs > 0 {
				load = float64(w.ActiveJobs) / float64(w.MaxJobs)
			}
			score += 0.3 * (1 - load)
		}
		if criteria.TargetArch != "" && criteria.TargetArch == w.SystemInfo.Arch {
			score += 0.2
		}
		if criteria.TargetOS != "" && criteria.TargetOS == w.SystemInfo.OS {
			score += 0.1
		}

		out = append(out, scored{worker: w, score: score})
	}
	return out
}

func bits(c model.Capability) int {
	n := 0
	for c != 0 {
		n += int(c & 1)
		c >>= 1
	}
	return n
}

// LocalArchOS returns the running process's GOARCH/GOOS, useful as
// SelectionCriteria defaults for same-host scheduling.
func LocalArchOS() (string, string) {
	return runtime.GOARCH, runtime.GOOS
}
