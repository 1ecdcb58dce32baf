package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codexec/internal/executor"
	"codexec/internal/executor/engine"
	"codexec/internal/executor/profile"
	"codexec/internal/executor/spec"
	"codexec/internal/executor/sqlexec"
	"codexec/pkg/utils/logger"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMemoryLimit = "128m"
	defaultOutputLimit = "1m"
	defaultEnvFile     = ".env"
)

// PolicyConfig is the resource policy as written in YAML. Sizes accept
// docker-style strings such as "128m".
type PolicyConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MemoryLimit        string        `yaml:"memoryLimit"`
	CPULimit           float64       `yaml:"cpuLimit"`
	NetworkDisabled    *bool         `yaml:"networkDisabled"`
	FilesystemReadOnly *bool         `yaml:"filesystemReadOnly"`
	RunAsUser          string        `yaml:"runAsUser"`
	PIDsLimit          int64         `yaml:"pidsLimit"`
	OutputLimit        string        `yaml:"outputLimit"`
}

// ExecutionConfig holds session and scheduling settings.
type ExecutionConfig struct {
	Mode              string `yaml:"mode"`
	ScratchDir        string `yaml:"scratchDir"`
	PoolSize          int    `yaml:"poolSize"`
	Parallelism       int    `yaml:"parallelism"`
	IsolateJavaScript bool   `yaml:"isolateJavaScript"`
	MaxCodeBytes      int    `yaml:"maxCodeBytes"`
	MaxTestCases      int    `yaml:"maxTestCases"`
}

// MetricsConfig controls the prometheus textfile written after a run.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfilePath"`
}

// AppConfig holds codexec config.
type AppConfig struct {
	EnvFile   string                 `yaml:"envFile"`
	Logger    logger.Config          `yaml:"logger"`
	Execution ExecutionConfig        `yaml:"execution"`
	Policy    PolicyConfig           `yaml:"policy"`
	Direct    engine.Config          `yaml:"direct"`
	Docker    engine.DockerConfig    `yaml:"docker"`
	SQL       sqlexec.Config         `yaml:"sql"`
	Languages []profile.LanguageSpec `yaml:"languages"`
	Metrics   MetricsConfig          `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the optional YAML file, then the optional .env file,
// then applies environment overrides and defaults.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	envFile := cfg.EnvFile
	if envFile == "" {
		envFile = defaultEnvFile
	}
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file failed: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	if raw, ok := lookup("CODE_TIMEOUT"); ok && raw != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid CODE_TIMEOUT %q: want positive milliseconds", raw)
		}
		cfg.Policy.Timeout = time.Duration(ms) * time.Millisecond
	}
	if raw, ok := lookup("MEMORY_LIMIT"); ok && raw != "" {
		if _, err := units.RAMInBytes(raw); err != nil {
			return fmt.Errorf("invalid MEMORY_LIMIT %q: %w", raw, err)
		}
		cfg.Policy.MemoryLimit = raw
	}
	if raw, ok := lookup("CPU_LIMIT"); ok && raw != "" {
		cpus, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || cpus <= 0 {
			return fmt.Errorf("invalid CPU_LIMIT %q: want positive cores", raw)
		}
		cfg.Policy.CPULimit = cpus
	}
	if raw, ok := lookup("EXEC_MODE"); ok && raw != "" {
		cfg.Execution.Mode = strings.ToLower(strings.TrimSpace(raw))
	}
	if raw, ok := lookup("SCRATCH_DIR"); ok && raw != "" {
		cfg.Execution.ScratchDir = raw
	}
	if raw, ok := lookup("SQL_DSN"); ok && raw != "" {
		cfg.SQL.DSN = raw
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Policy.Timeout <= 0 {
		cfg.Policy.Timeout = spec.DefaultTimeout
	}
	if cfg.Policy.MemoryLimit == "" {
		cfg.Policy.MemoryLimit = defaultMemoryLimit
	}
	if cfg.Policy.CPULimit <= 0 {
		cfg.Policy.CPULimit = spec.DefaultCPULimit
	}
	if cfg.Policy.OutputLimit == "" {
		cfg.Policy.OutputLimit = defaultOutputLimit
	}
	if cfg.Policy.NetworkDisabled == nil {
		cfg.Policy.NetworkDisabled = boolPtr(true)
	}
	if cfg.Policy.FilesystemReadOnly == nil {
		cfg.Policy.FilesystemReadOnly = boolPtr(true)
	}
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = engine.ModeDirect
	}
	if cfg.Execution.Parallelism <= 0 {
		cfg.Execution.Parallelism = 1
	}
}

func (c *AppConfig) toExecutorConfig() (executor.Config, error) {
	memory, err := units.RAMInBytes(c.Policy.MemoryLimit)
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid memory limit %q: %w", c.Policy.MemoryLimit, err)
	}
	output, err := units.RAMInBytes(c.Policy.OutputLimit)
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid output limit %q: %w", c.Policy.OutputLimit, err)
	}
	scratch := c.Execution.ScratchDir
	if scratch != "" {
		if scratch, err = filepath.Abs(scratch); err != nil {
			return executor.Config{}, fmt.Errorf("resolve scratch dir: %w", err)
		}
	}

	return executor.Config{
		Policy: spec.Policy{
			Timeout:            c.Policy.Timeout,
			MemoryLimitBytes:   memory,
			CPULimit:           c.Policy.CPULimit,
			NetworkDisabled:    *c.Policy.NetworkDisabled,
			FilesystemReadOnly: *c.Policy.FilesystemReadOnly,
			RunAsUser:          c.Policy.RunAsUser,
			PIDsLimit:          c.Policy.PIDsLimit,
			OutputLimitBytes:   output,
		},
		Mode:              c.Execution.Mode,
		ScratchDir:        scratch,
		PoolSize:          c.Execution.PoolSize,
		Parallelism:       c.Execution.Parallelism,
		IsolateJavaScript: c.Execution.IsolateJavaScript,
		Languages:         c.Languages,
		Direct:            c.Direct,
		Docker:            c.Docker,
		SQL:               c.SQL,
		MaxCodeBytes:      c.Execution.MaxCodeBytes,
		MaxTestCases:      c.Execution.MaxTestCases,
	}, nil
}

func boolPtr(v bool) *bool {
	return &v
}
