package model

import "time"

// BuildResult is produced by the Build Executor and consumed by the error
// pattern matcher and the recovery engine. It is immutable once emitted.
type BuildResult struct {
	Success     bool
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	DurationSec float64
	Artifacts   []string
}

// BuildOptions configures a single invocation of the project's build tool.
type BuildOptions struct {
	Parallelism int
	BuildType   string // e.g. "debug", "release"
	WorkingDir  string
	Timeout     time.Duration
	ExtraEnv    []string
}
