// Package engine runs one RunSpec as an isolated child process or container.
package engine

import (
	"context"

	"codexec/internal/executor/result"
	"codexec/internal/executor/spec"
)

const (
	ModeDirect    = "direct"
	ModeSandboxed = "sandboxed"
)

// Engine executes a RunSpec and reports raw process data.
//
// Run returns an error only when the run could not be performed at all.
// Timeouts, non-zero exits and cancellation are reported in the RunResult.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	// KillSession force-stops every in-flight run of a session.
	KillSession(ctx context.Context, sessionID string) error
	Mode() string
}
