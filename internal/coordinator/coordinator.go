// Package coordinator implements the Coordinator: it
// composes the artifact cache, auth store, worker registry, and scheduler
// behind a line-delimited JSON wire protocol listener, plus a read-only
// admin HTTP surface for operators.
package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.buildorc.dev/internal/auth"
	"go.buildorc.dev/internal/cache"
	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/metrics"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/scheduler"
	"go.buildorc.dev/internal/worker"
)

// connection wraps one accepted TCP socket with the line-delimited JSON
// framing the wire protocol uses.
type connection struct {
	conn     net.Conn
	writer   *bufio.Writer
	writeMu  sync.Mutex
	workerID string
}

func (c *connection) Send(msg model.ProtocolMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("coordinator: marshaling message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Coordinator owns the composed cache/auth/registry/scheduler stack and the
// network listeners that front them.
type Coordinator struct {
	Cache     *cache.Cache
	Auth      *auth.Store
	Registry  *worker.Registry
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Registry

	heartbeatInterval time.Duration
	log               log.Logger

	mu          sync.Mutex
	connections map[string]*connection // worker_id -> connection
}

// Deps bundles the collaborators a Coordinator composes. Scheduler and
// Registry are expected to already be wired to each other.
type Deps struct {
	Cache             *cache.Cache
	Auth              *auth.Store
	Registry          *worker.Registry
	Scheduler         *scheduler.Scheduler
	Metrics           *metrics.Registry
	HeartbeatInterval time.Duration
	Logger            log.Logger
}

// New builds a Coordinator from deps.
func New(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	interval := deps.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Coordinator{
		Cache:             deps.Cache,
		Auth:              deps.Auth,
		Registry:          deps.Registry,
		Scheduler:         deps.Scheduler,
		Metrics:           deps.Metrics,
		heartbeatInterval: interval,
		log:               logger,
		connections:       make(map[string]*connection),
	}
}

// ServeTCP accepts worker connections on the given listener until ctx is
// cancelled or the listener errors.
func (co *Coordinator) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("coordinator: accept: %w", err)
			}
		}
		go co.handleConnection(ctx, conn)
	}
}

func (co *Coordinator) handleConnection(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	c := &connection{conn: raw, writer: bufio.NewWriter(raw)}
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	if !scanner.Scan() {
		return
	}
	var hello model.ProtocolMessage
	if err := json.Unmarshal(scanner.Bytes(), &hello); err != nil || hello.Type != model.MsgHello {
		co.sendError(c, "first message must be Hello")
		return
	}

	var payload model.HelloPayload
	if err := json.Unmarshal(hello.Payload, &payload); err != nil {
		co.sendError(c, "malformed Hello payload")
		return
	}

	if result := co.Auth.Validate(payload.AuthToken, raw.RemoteAddr().String()); result != model.Success {
		co.sendError(c, fmt.Sprintf("authentication failed: %s", result))
		return
	}

	w := co.Registry.Register(payload.Name, payload.Name, payload.SystemInfo, c)
	c.workerID = w.ID

	co.mu.Lock()
	co.connections[w.ID] = c
	co.mu.Unlock()
	defer func() {
		co.mu.Lock()
		delete(co.connections, w.ID)
		co.mu.Unlock()
		co.Scheduler.HandleWorkerDisconnect(w.ID)
	}()

	welcome := model.WelcomePayload{WorkerID: w.ID, HeartbeatIntervalSec: int(co.heartbeatInterval.Seconds())}
	if err := co.send(c, model.MsgWelcome, "", welcome); err != nil {
		return
	}

	for scanner.Scan() {
		var msg model.ProtocolMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			co.log.Warnw("dropping malformed message", "worker_id", w.ID, "error", err)
			continue
		}
		co.route(w.ID, msg)
	}
}

func (co *Coordinator) route(workerID string, msg model.ProtocolMessage) {
	switch msg.Type {
	case model.MsgHeartbeat:
		var p model.HeartbeatPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			co.Registry.Heartbeat(workerID, &model.SystemInfo{CPUUsage: p.CPUUsage, MemoryUsage: p.MemoryUsage})
			co.Registry.UpdateJobCount(workerID, 0)
		}
	case model.MsgStatusUpdate:
		var p model.HeartbeatPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			co.Registry.Heartbeat(workerID, &model.SystemInfo{CPUUsage: p.CPUUsage, MemoryUsage: p.MemoryUsage})
		}
	case model.MsgJobProgress:
		// Progress reporting has no scheduler-side state to mutate beyond
		// what operators can already see via the admin surface.
	case model.MsgJobComplete:
		var p model.JobCompletePayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			result := &model.BuildResult{Success: true, DurationSec: p.DurationSec}
			if err := co.Scheduler.ReportJobResult(msg.CorrelationID, result); err == nil && co.Metrics != nil {
				co.Metrics.JobsCompleted.Inc()
			}
		}
	case model.MsgJobFailed:
		var p model.JobFailedPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			if err := co.Scheduler.ReportJobFailure(msg.CorrelationID, p.Error); err == nil && co.Metrics != nil {
				co.Metrics.JobsFailed.Inc()
			}
		}
	case model.MsgArtifactPush, model.MsgArtifactRequest:
		co.log.Debugw("artifact transfer message received; binary payload handled out of band", "type", msg.Type)
	default:
		co.log.Warnw("ignoring unrecognized message type", "type", msg.Type, "worker_id", workerID)
	}
}

func (co *Coordinator) sendError(c *connection, message string) {
	_ = co.send(c, model.MsgError, "", model.ErrorPayload{Message: message})
}

func (co *Coordinator) send(c *connection, msgType model.MessageType, correlationID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("coordinator: marshaling payload: %w", err)
	}
	return c.Send(model.ProtocolMessage{
		ID:            uuid.NewString(),
		Type:          msgType,
		Timestamp:     model.Now(),
		CorrelationID: correlationID,
		Payload:       body,
		PayloadSize:   len(body),
	})
}

// SendJobRequest implements scheduler.Dispatcher by framing spec as a
// JobRequest message correlated to the job's id.
func (co *Coordinator) SendJobRequest(w *model.RemoteWorker, job *model.ScheduledJob) error {
	co.mu.Lock()
	c, ok := co.connections[w.ID]
	co.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: no live connection for worker %q", w.ID)
	}
	return co.send(c, model.MsgJobRequest, job.JobID, job.Spec)
}

// RunMaintenance ticks check_heartbeats, check_timeouts, and process_queue
// every heartbeat interval until ctx is cancelled.
func (co *Coordinator) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(co.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			co.Registry.CheckHeartbeats()
			co.Scheduler.CheckTimeouts()
			co.Scheduler.ProcessQueue()
			if co.Metrics != nil {
				co.Metrics.ObserveWorkers(co.Registry.All())
			}
		}
	}
}

// SubmitBuild decomposes and enqueues a new build, matching the host-facing
// submit_build(project_path, options) surface.
func (co *Coordinator) SubmitBuild(projectPath string, strategy model.DistributionStrategy, timeoutSec int) (*model.BuildSession, error) {
	return co.Scheduler.CreateBuild(projectPath, strategy, timeoutSec)
}

// WaitBuild polls until buildID reaches a terminal BuildSessionState or
// timeout elapses, returning false on timeout.
func (co *Coordinator) WaitBuild(ctx context.Context, buildID string, timeout time.Duration) (*model.BuildSession, bool) {
	deadline := time.Now().Add(timeout)
	for {
		session, ok := co.Scheduler.Session(buildID)
		if ok && isTerminalSession(session.State) {
			return session, true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return session, false
		}
		select {
		case <-ctx.Done():
			return session, false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func isTerminalSession(s model.BuildSessionState) bool {
	switch s {
	case model.SessionCompleted, model.SessionFailed, model.SessionCancelled:
		return true
	default:
		return false
	}
}

// CancelBuild delegates to the scheduler.
func (co *Coordinator) CancelBuild(buildID, reason string) error {
	return co.Scheduler.CancelBuild(buildID, reason)
}
