//go:build linux

// Command exec-init is started by the direct engine in front of every
// submission process. It reads a JSON request on stdin, changes into the
// session directory, applies rlimits and an optional seccomp filter, then
// replaces itself with the requested command.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"codexec/internal/executor/spec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

type initRequest struct {
	WorkDir        string
	Cmd            []string
	Env            []string
	Limits         spec.ResourceLimit
	EnableSeccomp  bool
	SeccompProfile string
}

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "exec-init: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.Limits); err != nil {
		return err
	}

	env := buildEnv(req.Env)
	cmdPath, err := resolveCommand(req.Cmd[0], env)
	if err != nil {
		return err
	}

	// Installed last: the filter may forbid syscalls the steps above need.
	if req.EnableSeccomp && req.SeccompProfile != "" {
		if err := applySeccomp(req.SeccompProfile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

type rlimit struct {
	resource int
	name     string
	value    uint64
}

func rlimitsFor(limits spec.ResourceLimit) []rlimit {
	out := []rlimit{{resource: unix.RLIMIT_CORE, name: "core", value: 0}}
	if limits.CPUTime > 0 {
		seconds := uint64((limits.CPUTime.Milliseconds() + 999) / 1000)
		out = append(out, rlimit{resource: unix.RLIMIT_CPU, name: "cpu", value: seconds})
	}
	if limits.OutputBytes > 0 {
		out = append(out, rlimit{resource: unix.RLIMIT_FSIZE, name: "fsize", value: uint64(limits.OutputBytes)})
	}
	if limits.AddressSpaceBytes > 0 {
		out = append(out, rlimit{resource: unix.RLIMIT_AS, name: "as", value: uint64(limits.AddressSpaceBytes)})
	}
	return out
}

func applyRlimits(limits spec.ResourceLimit) error {
	for _, l := range rlimitsFor(limits) {
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append(append([]string{}, env...), defaultPath)
}

// resolveCommand looks name up on the PATH of the target environment, not
// the one exec-init inherited.
func resolveCommand(name string, env []string) (string, error) {
	for _, kv := range env {
		if path, ok := strings.CutPrefix(kv, "PATH="); ok {
			if err := os.Setenv("PATH", path); err != nil {
				return "", fmt.Errorf("set PATH: %w", err)
			}
		}
	}
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve command: %w", err)
	}
	return cmdPath, nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()

	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Unknown on this architecture.
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
