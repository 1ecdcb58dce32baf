package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codexec/internal/executor/engine"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg AppConfig)
		wantErr bool
	}{
		{
			name: "all overrides",
			env: map[string]string{
				"CODE_TIMEOUT": "2500",
				"MEMORY_LIMIT": "256m",
				"CPU_LIMIT":    "1.5",
				"EXEC_MODE":    "Sandboxed",
				"SCRATCH_DIR":  "/var/tmp/codexec",
				"SQL_DSN":      "postgres://u:p@db/x",
			},
			check: func(t *testing.T, cfg AppConfig) {
				if cfg.Policy.Timeout != 2500*time.Millisecond {
					t.Errorf("timeout = %v", cfg.Policy.Timeout)
				}
				if cfg.Policy.MemoryLimit != "256m" || cfg.Policy.CPULimit != 1.5 {
					t.Errorf("policy = %+v", cfg.Policy)
				}
				if cfg.Execution.Mode != engine.ModeSandboxed || cfg.Execution.ScratchDir != "/var/tmp/codexec" {
					t.Errorf("execution = %+v", cfg.Execution)
				}
				if cfg.SQL.DSN != "postgres://u:p@db/x" {
					t.Errorf("dsn = %q", cfg.SQL.DSN)
				}
			},
		},
		{name: "bad timeout", env: map[string]string{"CODE_TIMEOUT": "5s"}, wantErr: true},
		{name: "negative timeout", env: map[string]string{"CODE_TIMEOUT": "-1"}, wantErr: true},
		{name: "bad memory", env: map[string]string{"MEMORY_LIMIT": "lots"}, wantErr: true},
		{name: "bad cpu", env: map[string]string{"CPU_LIMIT": "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg AppConfig
			err := applyEnv(&cfg, envMap(tt.env))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestDefaultsProduceHardenedPolicy(t *testing.T) {
	var cfg AppConfig
	applyDefaults(&cfg)
	execCfg, err := cfg.toExecutorConfig()
	if err != nil {
		t.Fatalf("to executor config: %v", err)
	}
	p := execCfg.Policy
	if p.Timeout != 5*time.Second || p.MemoryLimitBytes != 128*1024*1024 || p.CPULimit != 0.5 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if !p.NetworkDisabled || !p.FilesystemReadOnly {
		t.Fatalf("defaults must disable network and write access: %+v", p)
	}
	if p.OutputLimitBytes != 1024*1024 {
		t.Fatalf("output limit = %d", p.OutputLimitBytes)
	}
	if execCfg.Mode != engine.ModeDirect || execCfg.Parallelism != 1 {
		t.Fatalf("unexpected execution defaults: %+v", execCfg)
	}
}

func TestLoadAppConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codexec.yaml")
	body := `
envFile: ` + filepath.Join(dir, "missing.env") + `
logger:
  level: debug
  format: json
execution:
  mode: sandboxed
  scratchDir: scratch
  parallelism: 4
  isolateJavaScript: true
policy:
  timeout: 3s
  memoryLimit: 64m
  networkDisabled: false
docker:
  pullImages: true
  tmpfsSize: 32m
languages:
  - id: python
    image: python:3.11-slim
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"CODE_TIMEOUT", "MEMORY_LIMIT", "CPU_LIMIT", "EXEC_MODE", "SCRATCH_DIR", "SQL_DSN"} {
		t.Setenv(key, "")
	}

	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Execution.Parallelism != 4 || !cfg.Execution.IsolateJavaScript {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if !cfg.Docker.PullImages || cfg.Docker.TmpfsSize != "32m" {
		t.Fatalf("docker config = %+v", cfg.Docker)
	}
	if len(cfg.Languages) != 1 || cfg.Languages[0].Image != "python:3.11-slim" {
		t.Fatalf("languages = %+v", cfg.Languages)
	}

	execCfg, err := cfg.toExecutorConfig()
	if err != nil {
		t.Fatalf("to executor config: %v", err)
	}
	if execCfg.Policy.Timeout != 3*time.Second || execCfg.Policy.MemoryLimitBytes != 64*1024*1024 {
		t.Fatalf("policy = %+v", execCfg.Policy)
	}
	if execCfg.Policy.NetworkDisabled {
		t.Fatalf("explicit networkDisabled: false must be kept")
	}
	if !execCfg.Policy.FilesystemReadOnly {
		t.Fatalf("unset filesystemReadOnly must default to true")
	}
	if !filepath.IsAbs(execCfg.ScratchDir) {
		t.Fatalf("scratch dir not resolved: %q", execCfg.ScratchDir)
	}
}

func TestLoadAppConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("CODE_TIMEOUT=1200\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "codexec.yaml")
	if err := os.WriteFile(path, []byte("envFile: "+envFile+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	os.Unsetenv("CODE_TIMEOUT")
	t.Cleanup(func() { os.Unsetenv("CODE_TIMEOUT") })

	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy.Timeout != 1200*time.Millisecond {
		t.Fatalf("timeout = %v", cfg.Policy.Timeout)
	}
}

func TestDecodeSubmission(t *testing.T) {
	sub, err := decodeSubmission(strings.NewReader(`{"code":"function main(x){return x*2}","language":"javascript","test_cases":[{"input":5,"expected":10}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.Language != "javascript" || len(sub.TestCases) != 1 || sub.TestCases[0].Expected != 10.0 {
		t.Fatalf("submission = %+v", sub)
	}

	if _, err := decodeSubmission(strings.NewReader(`{"code":"x"}`)); err == nil {
		t.Fatalf("missing language must fail")
	}
	if _, err := decodeSubmission(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("invalid json must fail")
	}
}
