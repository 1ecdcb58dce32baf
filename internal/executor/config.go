package executor

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"codexec/internal/executor/engine"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/spec"
	"codexec/internal/executor/sqlexec"
	appErr "codexec/pkg/errors"
)

const (
	defaultMaxCodeBytes = 256 * 1024
	defaultMaxTestCases = 512
	// Bounds cleanup that runs after the caller's context is gone.
	cleanupTimeout = 10 * time.Second
)

// Config is everything an Executor needs. The library never reads the
// environment; cmd/codexec maps env and files onto this struct.
type Config struct {
	Policy spec.Policy
	// Mode selects the process engine: engine.ModeDirect or engine.ModeSandboxed.
	Mode       string
	ScratchDir string
	// PoolSize caps concurrent process/container/VM executions process-wide.
	PoolSize int
	// Parallelism is the number of test cases of one session run at once.
	Parallelism int
	// IsolateJavaScript runs javascript in the in-process VM instead of node.
	IsolateJavaScript bool
	Languages         []profile.LanguageSpec
	Direct            engine.Config
	Docker            engine.DockerConfig
	SQL               sqlexec.Config
	MaxCodeBytes      int
	MaxTestCases      int
}

// DefaultConfig returns a hardened configuration for the direct engine.
func DefaultConfig() Config {
	return Config{
		Policy:      spec.DefaultPolicy(),
		Mode:        engine.ModeDirect,
		Parallelism: 1,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	c.Policy = c.Policy.WithDefaults()
	if c.Mode == "" {
		c.Mode = engine.ModeDirect
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "codexec")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = defaultMaxCodeBytes
	}
	if c.MaxTestCases <= 0 {
		c.MaxTestCases = defaultMaxTestCases
	}
	if c.Direct.OutputMaxBytes <= 0 {
		c.Direct.OutputMaxBytes = c.Policy.OutputLimitBytes
	}
	if c.Docker.OutputMaxBytes <= 0 {
		c.Docker.OutputMaxBytes = c.Policy.OutputLimitBytes
	}
	return c
}

func (c Config) validate() error {
	switch c.Mode {
	case engine.ModeDirect, engine.ModeSandboxed:
	default:
		return appErr.ValidationError("mode", "must be direct or sandboxed")
	}
	if !filepath.IsAbs(c.ScratchDir) {
		return appErr.ValidationError("scratch_dir", "must be an absolute path")
	}
	return nil
}
