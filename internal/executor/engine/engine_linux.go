//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codexec/internal/executor/result"
	"codexec/internal/executor/spec"
	"codexec/pkg/utils/logger"

	"go.uber.org/zap"
)

// pipeDrainDelay bounds how long Wait keeps reading output after the main
// process exited while descendants still hold the pipes.
const pipeDrainDelay = 100 * time.Millisecond

type directEngine struct {
	cfg        Config
	namespaces bool

	mu      sync.Mutex
	running map[string]map[int]string // session -> pgid -> cgroup path
}

// NewDirectEngine creates an engine that runs commands as host processes,
// each in its own process group.
func NewDirectEngine(cfg Config) (Engine, error) {
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	if cfg.HelperPath != "" {
		path, err := exec.LookPath(cfg.HelperPath)
		if err != nil {
			return nil, fmt.Errorf("resolve exec-init helper: %w", err)
		}
		cfg.HelperPath = path
	}
	if cfg.EnableSeccomp && cfg.HelperPath == "" {
		return nil, fmt.Errorf("seccomp requires the exec-init helper")
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	return &directEngine{
		cfg:        cfg,
		namespaces: !cfg.DisableNamespaces && namespacesSupported(),
		running:    make(map[string]map[int]string),
	}, nil
}

func (e *directEngine) Mode() string {
	return ModeDirect
}

func (e *directEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	if ctx.Err() != nil {
		return result.RunResult{ExitCode: -1, Cancelled: true}, nil
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SessionID, runSpec.TaskID)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}
	defer cgroupCleanup()

	cmd, err := e.buildCommand(runSpec)
	if err != nil {
		return result.RunResult{}, err
	}
	stdout := newLimitedBuffer(outputLimit(runSpec.Limits.OutputBytes, e.cfg.OutputMaxBytes))
	stderr := newLimitedBuffer(outputLimit(runSpec.Limits.OutputBytes, e.cfg.OutputMaxBytes))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay

	// On cgroup2 the process is born inside its cgroup, so nothing it forks
	// can run outside the limits.
	var cgroupDir *os.File
	if cgroupPath != "" && isCgroup2(cgroupPath) {
		dir, err := os.Open(cgroupPath)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("open cgroup: %w", err)
		}
		defer dir.Close()
		cgroupDir = dir
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = int(dir.Fd())
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid
	e.register(runSpec.SessionID, pid, cgroupPath)
	defer e.unregister(runSpec.SessionID, pid)

	if cgroupPath != "" && cgroupDir == nil {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut, cancelled atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if runSpec.Limits.WallTime > 0 {
			timer := time.NewTimer(runSpec.Limits.WallTime)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			terminate(pid, cgroupPath)
		case <-wallTimer:
			timedOut.Store(true)
			terminate(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallTime := time.Since(start)
	// Descendants left in the group must not outlive the run.
	killProcessGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			logger.Debug(ctx, "process wait failed", zap.Error(waitErr))
		}
	}

	runResult := result.RunResult{
		ExitCode:        exitCodeFromErr(waitErr, cmd.ProcessState),
		WallTimeMs:      wallTime.Milliseconds(),
		CPUTimeMs:       cpuTimeMs(cmd.ProcessState),
		MemoryKB:        memoryPeakKB(cgroupPath, cmd.ProcessState),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		TimedOut:        timedOut.Load(),
		Cancelled:       cancelled.Load(),
		OomKilled:       wasOomKilled(cgroupPath),
		OutputTruncated: stdout.Truncated() || stderr.Truncated(),
	}
	if (runResult.TimedOut || runResult.Cancelled) && runResult.ExitCode == 0 {
		runResult.ExitCode = -1
	}
	return runResult, nil
}

func (e *directEngine) buildCommand(runSpec spec.RunSpec) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if e.cfg.HelperPath != "" {
		stdin, err := jsonToPipe(newInitRequest(e.cfg, runSpec))
		if err != nil {
			return nil, fmt.Errorf("encode init request: %w", err)
		}
		cmd = exec.Command(e.cfg.HelperPath)
		cmd.Stdin = stdin
	} else {
		cmd = exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	}
	cmd.Dir = runSpec.HostDir
	cmd.Env = runSpec.Env
	cmd.SysProcAttr = buildSysProcAttr(e.namespaces, runSpec.NetworkDisabled)
	return cmd, nil
}

func (e *directEngine) KillSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	for pgid, cgroupPath := range e.snapshot(sessionID) {
		killTree(pgid)
		if cgroupPath == "" {
			continue
		}
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func (e *directEngine) register(sessionID string, pgid int, cgroupPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runs := e.running[sessionID]
	if runs == nil {
		runs = make(map[int]string)
		e.running[sessionID] = runs
	}
	runs[pgid] = cgroupPath
}

func (e *directEngine) unregister(sessionID string, pgid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runs := e.running[sessionID]
	delete(runs, pgid)
	if len(runs) == 0 {
		delete(e.running, sessionID)
	}
}

func (e *directEngine) snapshot(sessionID string) map[int]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int]string, len(e.running[sessionID]))
	for pgid, path := range e.running[sessionID] {
		out[pgid] = path
	}
	return out
}

// terminate kills a run that is still going: its cgroup when it has one,
// then the whole process tree.
func terminate(pid int, cgroupPath string) {
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
	killTree(pid)
}

func killProcessGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// jsonToPipe encodes the init request as the helper's stdin. After the
// helper decodes it and execs, the user program reads EOF.
func jsonToPipe(req initRequest) (io.Reader, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	utime := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	stime := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return (utime + stime).Milliseconds()
}
