package model

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the coordinator<->worker wire protocol's message
// kinds.
type MessageType string

const (
	MsgHello           MessageType = "Hello"
	MsgWelcome         MessageType = "Welcome"
	MsgAuthChallenge   MessageType = "AuthChallenge"
	MsgAuthResponse    MessageType = "AuthResponse"
	MsgHeartbeat       MessageType = "Heartbeat"
	MsgStatusUpdate    MessageType = "StatusUpdate"
	MsgJobRequest      MessageType = "JobRequest"
	MsgJobProgress     MessageType = "JobProgress"
	MsgJobComplete     MessageType = "JobComplete"
	MsgJobFailed       MessageType = "JobFailed"
	MsgArtifactPush    MessageType = "ArtifactPush"
	MsgArtifactRequest MessageType = "ArtifactRequest"
	MsgError           MessageType = "Error"
	MsgDisconnect      MessageType = "Disconnect"
)

// ProtocolMessage is the envelope every coordinator<->worker message carries.
// Payload is left as raw JSON so the coordinator can route by Type before
// unmarshaling the specific shape.
type ProtocolMessage struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	PayloadSize   int             `json:"payload_size"`
}

// HelloPayload is the worker->coordinator Hello body.
type HelloPayload struct {
	Name         string     `json:"name"`
	AuthToken    string     `json:"auth_token"`
	SystemInfo   SystemInfo `json:"system_info"`
	Capabilities []string   `json:"capabilities"`
}

// WelcomePayload is the coordinator->worker Welcome body.
type WelcomePayload struct {
	WorkerID             string `json:"worker_id"`
	HeartbeatIntervalSec int    `json:"heartbeat_interval_sec"`
}

// HeartbeatPayload is the worker->coordinator Heartbeat body.
type HeartbeatPayload struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	ActiveJobs  int     `json:"active_jobs"`
}

// JobProgressPayload reports a running job's progress.
type JobProgressPayload struct {
	Percent float64 `json:"percent"`
	Stage   string  `json:"stage"`
}

// JobCompleteArtifact is one artifact produced by a completed job.
type JobCompleteArtifact struct {
	CacheKey string       `json:"cache_key"`
	Size     int64        `json:"size"`
	Type     ArtifactType `json:"type"`
}

// JobCompletePayload is the worker->coordinator JobComplete body.
type JobCompletePayload struct {
	Artifacts   []JobCompleteArtifact `json:"artifacts"`
	DurationSec float64               `json:"duration_sec"`
}

// JobFailedPayload is the worker->coordinator JobFailed body.
type JobFailedPayload struct {
	Error         string `json:"error"`
	StderrExcerpt string `json:"stderr_excerpt"`
}

// ArtifactTransferPayload covers both ArtifactPush and ArtifactRequest; the
// binary blob itself travels out of band of this JSON envelope.
type ArtifactTransferPayload struct {
	CacheKey string `json:"cache_key"`
	Size     int64  `json:"size"`
}

// ErrorPayload is the generic Error message body.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Now returns the current unix time in seconds, used to stamp new
// ProtocolMessages. Kept as a var so tests can substitute a fixed clock.
var Now = func() int64 { return time.Now().Unix() }
