package shell

import (
	"context"
	"time"
)

// Result is the captured outcome of one invocation.
type Result struct {
	Stdout   string        `json:"output"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Mode     Mode          `json:"mode"`
}

// Executor abstracts process execution.
// Enables tests to run the queue and API without spawning processes.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}
