// Package workerclient implements the worker side of the coordinator<->worker
// wire protocol: dial, Hello/Welcome handshake, periodic
// Heartbeat, and JobRequest execution reported back as JobComplete/JobFailed.
package workerclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/toolregistry"
)

// Client holds one worker's connection to a coordinator.
type Client struct {
	conn     net.Conn
	writer   *bufio.Writer
	writeMu  sync.Mutex
	log      log.Logger
	workerID string
	scanner  *bufio.Scanner

	heartbeatInterval time.Duration
}

// Dial connects to addr, performs the Hello/Welcome handshake with token, and
// returns a Client ready for Run.
func Dial(addr, name, token string, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("workerclient: dialing %s: %w", addr, err)
	}

	c := &Client{conn: conn, writer: bufio.NewWriter(conn), log: logger}

	hello := model.HelloPayload{
		Name:      name,
		AuthToken: token,
		SystemInfo: model.SystemInfo{
			Arch:     runtime.GOARCH,
			OS:       runtime.GOOS,
			CPUCores: runtime.NumCPU(),
		},
	}
	if err := c.send(model.MsgHello, "", hello); err != nil {
		conn.Close()
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	if !scanner.Scan() {
		conn.Close()
		return nil, fmt.Errorf("workerclient: connection closed before Welcome")
	}
	var msg model.ProtocolMessage
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("workerclient: decoding handshake reply: %w", err)
	}
	if msg.Type == model.MsgError {
		var errPayload model.ErrorPayload
		_ = json.Unmarshal(msg.Payload, &errPayload)
		conn.Close()
		return nil, fmt.Errorf("workerclient: coordinator rejected handshake: %s", errPayload.Message)
	}
	if msg.Type != model.MsgWelcome {
		conn.Close()
		return nil, fmt.Errorf("workerclient: expected Welcome, got %s", msg.Type)
	}
	var welcome model.WelcomePayload
	if err := json.Unmarshal(msg.Payload, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("workerclient: decoding Welcome payload: %w", err)
	}

	c.workerID = welcome.WorkerID
	c.heartbeatInterval = time.Duration(welcome.HeartbeatIntervalSec) * time.Second
	if c.heartbeatInterval <= 0 {
		c.heartbeatInterval = 10 * time.Second
	}
	c.scanner = scanner
	return c, nil
}

func (c *Client) send(msgType model.MessageType, correlationID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workerclient: marshaling payload: %w", err)
	}
	msg := model.ProtocolMessage{
		ID:            uuid.NewString(),
		Type:          msgType,
		Timestamp:     model.Now(),
		CorrelationID: correlationID,
		Payload:       body,
		PayloadSize:   len(body),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("workerclient: marshaling envelope: %w", err)
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

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// WorkerID returns the id the coordinator assigned this worker in Welcome.
func (c *Client) WorkerID() string {
	return c.workerID
}

// Run sends periodic heartbeats and processes JobRequest messages until ctx
// is cancelled or the connection drops. Each JobRequest is executed via the
// Tool Registry and reported back as JobComplete or JobFailed.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	go c.heartbeatLoop(ctx)

	for c.scanner.Scan() {
		var msg model.ProtocolMessage
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			c.log.Warnw("dropping malformed message from coordinator", "error", err)
			continue
		}
		c.handle(msg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.scanner.Err()
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.send(model.MsgHeartbeat, "", model.HeartbeatPayload{})
		}
	}
}

func (c *Client) handle(msg model.ProtocolMessage) {
	switch msg.Type {
	case model.MsgJobRequest:
		var spec model.JobSpec
		if err := json.Unmarshal(msg.Payload, &spec); err != nil {
			c.log.Warnw("malformed JobRequest", "error", err)
			return
		}
		go c.runJob(msg.CorrelationID, spec)
	case model.MsgDisconnect:
		c.conn.Close()
	default:
		c.log.Debugw("ignoring message from coordinator", "type", msg.Type)
	}
}

func (c *Client) runJob(jobID string, spec model.JobSpec) {
	result, err := toolregistry.Execute(&toolregistry.Command{
		Name:       spec.Command,
		Args:       spec.Args,
		WorkingDir: spec.WorkingDir,
	})
	if err != nil && result == nil {
		_ = c.send(model.MsgJobFailed, jobID, model.JobFailedPayload{Error: err.Error()})
		return
	}
	if !result.Success {
		_ = c.send(model.MsgJobFailed, jobID, model.JobFailedPayload{
			Error:         fmt.Sprintf("exit code %d", result.ExitCode),
			StderrExcerpt: excerpt(result.Stderr, 2048),
		})
		return
	}
	_ = c.send(model.MsgJobComplete, jobID, model.JobCompletePayload{DurationSec: result.DurationSec})
}

func excerpt(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[len(b)-max:])
}
