package runner

import (
	"context"

	"codexec/internal/executor/harness"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/result"
	"codexec/internal/executor/spec"
	"codexec/internal/executor/workspace"
)

// CompileRequest describes the one compilation of a session.
type CompileRequest struct {
	SessionID string
	Language  profile.LanguageSpec
	Artifact  harness.Artifact
	Workspace workspace.Layout
	Policy    spec.Policy
}

// RunRequest describes one test case execution.
type RunRequest struct {
	SessionID string
	TestIndex int
	Language  profile.LanguageSpec
	Artifact  harness.Artifact
	Workspace workspace.Layout
	// InputPath is relative to the session directory.
	InputPath string
	Policy    spec.Policy
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.Outcome, error)
}
