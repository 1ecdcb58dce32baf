package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"codexec/internal/executor/spec"
	appErr "codexec/pkg/errors"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainerAPI struct {
	mu sync.Mutex

	imagePresent bool
	pulled       []string

	config     *container.Config
	hostConfig *container.HostConfig

	exitCode int64
	hang     bool // never exit until killed
	stdout   string
	stderr   string
	oom      bool

	killed  []string
	removed []string
	exited  chan container.WaitResponse
}

func newFakeContainerAPI() *fakeContainerAPI {
	return &fakeContainerAPI{imagePresent: true, exited: make(chan container.WaitResponse, 1)}
}

func (f *fakeContainerAPI) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.imagePresent {
		return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image"))
	}
	return types.ImageInspect{ID: imageID}, nil, nil
}

func (f *fakeContainerAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, refStr)
	f.imagePresent = true
	return io.NopCloser(bytes.NewReader([]byte(`{"status":"done"}`))), nil
}

func (f *fakeContainerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = config
	f.hostConfig = hostConfig
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeContainerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if !f.hang {
		f.exited <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return nil
}

func (f *fakeContainerAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return f.exited, make(chan error)
}

func (f *fakeContainerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeContainerAPI) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    containerID,
			State: &types.ContainerState{OOMKilled: f.oom},
		},
	}, nil
}

func (f *fakeContainerAPI) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, containerID)
	return nil
}

func (f *fakeContainerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !options.Force {
		return errors.New("expected forced removal")
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func dockerRunSpec(hostDir string) spec.RunSpec {
	return spec.RunSpec{
		SessionID:          "sess",
		TaskID:             "0",
		Image:              "python:3.12-alpine",
		WorkDir:            "/work",
		HostDir:            hostDir,
		Cmd:                []string{"python3", "src/harness.py"},
		BindMounts:         []spec.MountSpec{{Source: hostDir, Target: "/work", ReadOnly: true}},
		NetworkDisabled:    true,
		FilesystemReadOnly: true,
		User:               "65534:65534",
		Limits: spec.ResourceLimit{
			WallTime:    time.Second,
			MemoryBytes: 128 << 20,
			CPUs:        0.5,
			PIDs:        32,
		},
	}
}

func TestDockerEngineRun(t *testing.T) {
	api := newFakeContainerAPI()
	api.stdout = "10\n"
	api.stderr = "debug\n"
	eng, err := NewDockerEngine(api, DockerConfig{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	res, err := eng.Run(context.Background(), dockerRunSpec(t.TempDir()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "10\n" || res.Stderr != "debug\n" {
		t.Fatalf("unexpected result: %+v", res)
	}

	hc := api.hostConfig
	if hc.NetworkMode != "none" {
		t.Fatalf("expected network none, got %q", hc.NetworkMode)
	}
	if !hc.ReadonlyRootfs {
		t.Fatalf("expected read-only rootfs")
	}
	if hc.Resources.Memory != 128<<20 || hc.Resources.NanoCPUs != 500000000 {
		t.Fatalf("unexpected resources: %+v", hc.Resources)
	}
	if hc.Resources.PidsLimit == nil || *hc.Resources.PidsLimit != 32 {
		t.Fatalf("expected pids limit 32")
	}
	if len(hc.Mounts) != 1 || !hc.Mounts[0].ReadOnly || hc.Mounts[0].Target != "/work" {
		t.Fatalf("unexpected mounts: %+v", hc.Mounts)
	}
	if api.config.User != "65534:65534" || !api.config.NetworkDisabled {
		t.Fatalf("unexpected container config: %+v", api.config)
	}
	if len(api.removed) != 1 {
		t.Fatalf("expected container to be removed, got %v", api.removed)
	}
}

func TestDockerEngineTimeout(t *testing.T) {
	api := newFakeContainerAPI()
	api.hang = true
	eng, _ := NewDockerEngine(api, DockerConfig{})

	rs := dockerRunSpec(t.TempDir())
	rs.Limits.WallTime = 50 * time.Millisecond

	start := time.Now()
	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long")
	}
	if len(api.killed) != 1 || len(api.removed) != 1 {
		t.Fatalf("expected kill and remove, got killed=%v removed=%v", api.killed, api.removed)
	}
}

func TestDockerEngineCancel(t *testing.T) {
	api := newFakeContainerAPI()
	api.hang = true
	eng, _ := NewDockerEngine(api, DockerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	res, err := eng.Run(ctx, dockerRunSpec(t.TempDir()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Cancelled {
		t.Fatalf("expected cancellation, got %+v", res)
	}
}

func TestDockerEngineImageEnsure(t *testing.T) {
	api := newFakeContainerAPI()
	api.imagePresent = false
	eng, _ := NewDockerEngine(api, DockerConfig{})

	_, err := eng.Run(context.Background(), dockerRunSpec(t.TempDir()))
	if !appErr.Is(err, appErr.ImageUnavailable) {
		t.Fatalf("expected ImageUnavailable without pulling, got %v", err)
	}

	eng, _ = NewDockerEngine(api, DockerConfig{PullImages: true})
	if _, err := eng.Run(context.Background(), dockerRunSpec(t.TempDir())); err != nil {
		t.Fatalf("run with pull: %v", err)
	}
	if len(api.pulled) != 1 || api.pulled[0] != "python:3.12-alpine" {
		t.Fatalf("expected one pull, got %v", api.pulled)
	}
}

func TestDockerEngineOutputLimit(t *testing.T) {
	api := newFakeContainerAPI()
	api.stdout = "0123456789"
	eng, _ := NewDockerEngine(api, DockerConfig{})

	rs := dockerRunSpec(t.TempDir())
	rs.Limits.OutputBytes = 4
	res, err := eng.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "0123" || !res.OutputTruncated {
		t.Fatalf("expected truncated output, got %q truncated=%v", res.Stdout, res.OutputTruncated)
	}
}

func TestDockerEngineRequiresImage(t *testing.T) {
	eng, _ := NewDockerEngine(newFakeContainerAPI(), DockerConfig{})
	rs := dockerRunSpec(t.TempDir())
	rs.Image = ""
	if _, err := eng.Run(context.Background(), rs); !appErr.Is(err, appErr.ImageUnavailable) {
		t.Fatalf("expected ImageUnavailable, got %v", err)
	}
}
