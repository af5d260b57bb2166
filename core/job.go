package core

import "time"

// RunnerJob is one sandboxed execution request. It lives for a single
// Runner.Run call.
type RunnerJob struct {
	ID      string        // Unique job identifier, also used to name the sandbox
	Backend string        // Backend the job was dispatched to
	Input   []byte        // Opaque payload written to the workload's stdin
	Timeout time.Duration // Upper bound on the whole execution
	Target  LaunchSpec    // Isolated context to launch; Name is set by the runner
}

// LaunchSpec describes the isolated context a Sandbox should start
type LaunchSpec struct {
	Name    string   // Unique name of the execution context
	Image   string   // Image reference for container runtimes
	Command []string // Program and arguments run inside the context
	Env     map[string]string
	Limits  ResourceLimits
}

// ResourceLimits constrains the workload. Zero values mean no limit.
type ResourceLimits struct {
	MemoryMB  int
	CPUs      float64
	PidsLimit int
}

// JobResult summarizes a finished job for events and logs
type JobResult struct {
	JobID    string
	Backend  string
	Subject  string
	ExitCode int
	Duration time.Duration
	Err      string
}
