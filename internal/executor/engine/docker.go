package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"codexec/internal/executor/result"
	"codexec/internal/executor/spec"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	sessionLabel        = "codexec.session"
	defaultTmpfsSize    = "64m"
	containerStopBudget = 10 * time.Second
)

// ContainerAPI is the subset of the docker client used by the sandboxed
// engine. *client.Client satisfies it; tests use fakes.
type ContainerAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ ContainerAPI = (*client.Client)(nil)

type dockerEngine struct {
	api ContainerAPI
	cfg DockerConfig

	images sync.Map // image ref -> struct{}, present locally

	mu      sync.Mutex
	running map[string]map[string]struct{} // session -> container ids
}

// NewDockerClient connects to the docker daemon from the environment, or
// to cfg.Host when set.
func NewDockerClient(cfg DockerConfig) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ExecutorUnavailable, "create docker client failed")
	}
	return cli, nil
}

// NewDockerEngine creates an engine that runs each RunSpec in a disposable
// container.
func NewDockerEngine(api ContainerAPI, cfg DockerConfig) (Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("docker api is required")
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = defaultTmpfsSize
	}
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	return &dockerEngine{
		api:     api,
		cfg:     cfg,
		running: make(map[string]map[string]struct{}),
	}, nil
}

func (e *dockerEngine) Mode() string {
	return ModeSandboxed
}

func (e *dockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	if runSpec.Image == "" {
		return result.RunResult{}, appErr.New(appErr.ImageUnavailable).WithMessage("language has no sandbox image")
	}
	if ctx.Err() != nil {
		return result.RunResult{ExitCode: -1, Cancelled: true}, nil
	}
	if err := e.ensureImage(ctx, runSpec.Image); err != nil {
		return result.RunResult{}, err
	}

	created, err := e.api.ContainerCreate(ctx, containerConfig(runSpec), e.hostConfig(runSpec), nil, nil, "")
	if err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.ContainerCreateFailed, "create container failed")
	}
	id := created.ID
	e.register(runSpec.SessionID, id)
	defer func() {
		e.unregister(runSpec.SessionID, id)
		e.remove(ctx, id)
	}()

	// Wait must be armed before start so a fast exit is not missed.
	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	waitCh, waitErrCh := e.api.ContainerWait(waitCtx, id, container.WaitConditionNextExit)

	start := time.Now()
	if err := e.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.ContainerStartFailed, "start container failed")
	}

	var wallTimer <-chan time.Time
	if runSpec.Limits.WallTime > 0 {
		timer := time.NewTimer(runSpec.Limits.WallTime)
		defer timer.Stop()
		wallTimer = timer.C
	}

	runResult := result.RunResult{ExitCode: -1}
	select {
	case resp := <-waitCh:
		runResult.ExitCode = int(resp.StatusCode)
		if resp.Error != nil && resp.Error.Message != "" {
			logger.Warn(ctx, "container wait reported error", zap.String("container", id), zap.String("error", resp.Error.Message))
		}
	case err := <-waitErrCh:
		return result.RunResult{}, appErr.Wrapf(err, appErr.ExecutionSystemError, "wait container failed")
	case <-wallTimer:
		runResult.TimedOut = true
		e.kill(ctx, id)
	case <-ctx.Done():
		runResult.Cancelled = true
		e.kill(ctx, id)
	}
	runResult.WallTimeMs = time.Since(start).Milliseconds()

	limit := outputLimit(runSpec.Limits.OutputBytes, e.cfg.OutputMaxBytes)
	stdout := newLimitedBuffer(limit)
	stderr := newLimitedBuffer(limit)
	if err := e.collectLogs(id, stdout, stderr); err != nil {
		logger.Warn(ctx, "collect container logs failed", zap.String("container", id), zap.Error(err))
	}
	runResult.Stdout = stdout.String()
	runResult.Stderr = stderr.String()
	runResult.OutputTruncated = stdout.Truncated() || stderr.Truncated()

	inspectCtx, cancel := context.WithTimeout(context.Background(), containerStopBudget)
	defer cancel()
	if info, err := e.api.ContainerInspect(inspectCtx, id); err == nil && info.ContainerJSONBase != nil && info.State != nil {
		runResult.OomKilled = info.State.OOMKilled
	}
	return runResult, nil
}

func containerConfig(runSpec spec.RunSpec) *container.Config {
	return &container.Config{
		Image:           runSpec.Image,
		Cmd:             runSpec.Cmd,
		Env:             runSpec.Env,
		WorkingDir:      runSpec.WorkDir,
		User:            runSpec.User,
		NetworkDisabled: runSpec.NetworkDisabled,
		Labels:          map[string]string{sessionLabel: runSpec.SessionID},
		AttachStdout:    false,
		AttachStderr:    false,
		Tty:             false,
	}
}

func (e *dockerEngine) hostConfig(runSpec spec.RunSpec) *container.HostConfig {
	mounts := make([]mount.Mount, 0, len(runSpec.BindMounts))
	for _, m := range runSpec.BindMounts {
		if m.Source == "" || m.Target == "" {
			continue
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resources := container.Resources{}
	if runSpec.Limits.MemoryBytes > 0 {
		resources.Memory = runSpec.Limits.MemoryBytes
		resources.MemorySwap = runSpec.Limits.MemoryBytes
	}
	if runSpec.Limits.CPUs > 0 {
		resources.NanoCPUs = int64(runSpec.Limits.CPUs * 1e9)
	}
	if runSpec.Limits.PIDs > 0 {
		pids := runSpec.Limits.PIDs
		resources.PidsLimit = &pids
	}

	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		ReadonlyRootfs: runSpec.FilesystemReadOnly,
		Tmpfs:          map[string]string{"/tmp": "rw,nosuid,nodev,size=" + e.cfg.TmpfsSize},
		Resources:      resources,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}
	if runSpec.NetworkDisabled {
		hostCfg.NetworkMode = container.NetworkMode("none")
	}
	return hostCfg
}

func (e *dockerEngine) ensureImage(ctx context.Context, ref string) error {
	if _, ok := e.images.Load(ref); ok {
		return nil
	}
	_, _, err := e.api.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		e.images.Store(ref, struct{}{})
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return appErr.Wrapf(err, appErr.ExecutorUnavailable, "inspect image %s failed", ref)
	}
	if !e.cfg.PullImages {
		return appErr.Newf(appErr.ImageUnavailable, "sandbox image %s is not available", ref)
	}

	logger.Info(ctx, "pulling sandbox image", zap.String("image", ref))
	reader, err := e.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.ImageUnavailable, "pull image %s failed", ref)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return appErr.Wrapf(err, appErr.ImageUnavailable, "pull image %s failed", ref)
	}
	e.images.Store(ref, struct{}{})
	return nil
}

func (e *dockerEngine) collectLogs(id string, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), containerStopBudget)
	defer cancel()
	logs, err := e.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()
	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

func (e *dockerEngine) kill(ctx context.Context, id string) {
	killCtx, cancel := context.WithTimeout(context.Background(), containerStopBudget)
	defer cancel()
	if err := e.api.ContainerKill(killCtx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
	}
}

func (e *dockerEngine) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.Background(), containerStopBudget)
	defer cancel()
	if err := e.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
	}
}

func (e *dockerEngine) KillSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	for _, id := range e.snapshot(sessionID) {
		e.kill(ctx, id)
	}
	return nil
}

func (e *dockerEngine) register(sessionID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.running[sessionID]
	if ids == nil {
		ids = make(map[string]struct{})
		e.running[sessionID] = ids
	}
	ids[id] = struct{}{}
}

func (e *dockerEngine) unregister(sessionID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.running[sessionID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(e.running, sessionID)
	}
}

func (e *dockerEngine) snapshot(sessionID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.running[sessionID]))
	for id := range e.running[sessionID] {
		out = append(out, id)
	}
	return out
}
