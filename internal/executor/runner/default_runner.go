// Package runner implements compile and run workflows on top of an engine
// and classifies raw process results into outcomes.
package runner

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"codexec/internal/executor/engine"
	"codexec/internal/executor/observer"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/result"
	"codexec/internal/executor/spec"
	appErr "codexec/pkg/errors"
)

const (
	containerWorkDir = "/work"
	compileTaskID    = "compile"
)

// DefaultRunner implements compile/run workflows for supported languages.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by an engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	if !req.Language.CompileEnabled {
		return result.CompileResult{OK: true}, nil
	}

	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language, req.Artifact.Sources, req.Artifact.Binary, req.Artifact.Main, "")
	if err != nil {
		return result.CompileResult{}, err
	}
	limits := req.Policy.Limits()
	limits.WallTime = req.Language.CompileTimeout
	if req.Language.CompileMemoryBytes > limits.MemoryBytes {
		limits.MemoryBytes = req.Language.CompileMemoryBytes
	}
	// Compilers fork helpers and JIT runtimes; only the wall clock and
	// cgroup limits bound them.
	limits.AddressSpaceBytes = 0

	// The compiler writes its output next to the sources, so the mount
	// stays writable for this one step.
	runSpec := r.baseRunSpec(req.SessionID, compileTaskID, req.Language, req.Workspace.Dir(), req.Policy)
	runSpec.Cmd = cmd
	runSpec.Limits = limits
	runSpec.BindMounts = []spec.MountSpec{{Source: req.Workspace.Dir(), Target: containerWorkDir, ReadOnly: false}}

	runRes, err := r.eng.Run(ctx, runSpec)
	compileRes := result.CompileResult{
		OK:       err == nil && runRes.ExitCode == 0 && !runRes.TimedOut && !runRes.Cancelled,
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.WallTimeMs,
		MemoryKB: runRes.MemoryKB,
		TimedOut: runRes.TimedOut,
	}
	r.metrics.ObserveCompile(ctx, string(req.Language.ID), compileRes.OK, compileRes.TimeMs, compileRes.MemoryKB)
	if err != nil {
		compileRes.Error = err.Error()
		return compileRes, err
	}
	switch {
	case runRes.Cancelled:
		compileRes.Error = appErr.Cancelled.Message()
	case runRes.TimedOut:
		compileRes.Error = "compilation timeout exceeded"
	case runRes.ExitCode != 0:
		compileRes.Error = compileMessage(runRes)
	}
	return compileRes, nil
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.Outcome, error) {
	if err := validateRunRequest(req); err != nil {
		return result.Outcome{}, err
	}

	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language, req.Artifact.Sources, req.Artifact.Binary, req.Artifact.Main, req.InputPath)
	if err != nil {
		return result.Outcome{}, err
	}
	limits := req.Policy.Limits()
	if req.Language.LimitAddressSpace && r.eng.Mode() == engine.ModeDirect {
		limits.AddressSpaceBytes = limits.MemoryBytes
	}
	// RLIMIT_CPU backs up the wall clock for processes that escape the group.
	limits.CPUTime = limits.WallTime + time.Second

	runSpec := r.baseRunSpec(req.SessionID, strconv.Itoa(req.TestIndex), req.Language, req.Workspace.Dir(), req.Policy)
	runSpec.Cmd = cmd
	runSpec.Limits = limits
	runSpec.BindMounts = []spec.MountSpec{{
		Source:   req.Workspace.Dir(),
		Target:   containerWorkDir,
		ReadOnly: req.Policy.FilesystemReadOnly,
	}}

	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return result.Outcome{}, err
	}
	return Classify(runRes), nil
}

func (r *DefaultRunner) baseRunSpec(sessionID, taskID string, lang profile.LanguageSpec, hostDir string, policy spec.Policy) spec.RunSpec {
	return spec.RunSpec{
		SessionID:          sessionID,
		TaskID:             taskID,
		Image:              lang.Image,
		WorkDir:            containerWorkDir,
		HostDir:            hostDir,
		Env:                lang.Env,
		NetworkDisabled:    policy.NetworkDisabled,
		FilesystemReadOnly: policy.FilesystemReadOnly,
		User:               policy.RunAsUser,
	}
}

func validateCompileRequest(req CompileRequest) error {
	if req.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if req.Workspace.Dir() == "" || req.Workspace.SessionID == "" {
		return appErr.ValidationError("workspace", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language", "required")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if req.Workspace.SessionID == "" {
		return appErr.ValidationError("workspace", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.InputPath == "" {
		return appErr.ValidationError("input_path", "required")
	}
	if req.TestIndex < 0 {
		return appErr.ValidationError("test_index", "must not be negative")
	}
	return nil
}

// buildCommand expands a command template into argv. Paths are relative to
// the session directory, which is the working directory in every engine.
func buildCommand(tpl string, lang profile.LanguageSpec, sources []string, binary, main, input string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	srcDir := "src"
	srcPaths := make([]string, 0, len(sources))
	for _, s := range sources {
		srcPaths = append(srcPaths, path.Join(srcDir, s))
	}
	primary := ""
	if len(srcPaths) > 0 {
		primary = srcPaths[0]
	}
	bin := ""
	if binary != "" {
		bin = path.Join(srcDir, binary)
	}

	pairs := []string{
		"{sources}", strings.Join(srcPaths, " "),
		"{src}", primary,
		"{srcdir}", srcDir,
		"{bin}", bin,
		"{main}", main,
		"{input}", input,
	}
	for k, v := range lang.Vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	expanded := strings.NewReplacer(pairs...).Replace(tpl)

	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func compileMessage(res result.RunResult) string {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		return "compilation failed with exit code " + strconv.Itoa(res.ExitCode)
	}
	return msg
}
