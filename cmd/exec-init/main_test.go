//go:build linux

package main

import (
	"strings"
	"testing"
	"time"

	"codexec/internal/executor/spec"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func TestDecodeAndValidateRequest(t *testing.T) {
	body := `{"WorkDir":"/tmp/s","Cmd":["node","src/solution.js","tests/0/input.json"],"Limits":{"CPUTime":6000000000}}`
	req, err := decodeRequest(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Limits.CPUTime != 6*time.Second {
		t.Fatalf("cpu time = %v", req.Limits.CPUTime)
	}
	if err := validateRequest(req); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := validateRequest(initRequest{WorkDir: "/tmp"}); err == nil {
		t.Fatalf("expected missing command error")
	}
	if err := validateRequest(initRequest{Cmd: []string{"true"}}); err == nil {
		t.Fatalf("expected missing workdir error")
	}
	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRlimitsFor(t *testing.T) {
	got := rlimitsFor(spec.ResourceLimit{
		CPUTime:           1500 * time.Millisecond,
		OutputBytes:       1 << 20,
		AddressSpaceBytes: 128 << 20,
		PIDs:              64,
	})
	want := map[int]uint64{
		unix.RLIMIT_CORE:  0,
		unix.RLIMIT_CPU:   2,
		unix.RLIMIT_FSIZE: 1 << 20,
		unix.RLIMIT_AS:    128 << 20,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d limits, want %d", len(got), len(want))
	}
	for _, l := range got {
		if v, ok := want[l.resource]; !ok || v != l.value {
			t.Fatalf("unexpected limit %s=%d", l.name, l.value)
		}
	}

	if n := len(rlimitsFor(spec.ResourceLimit{})); n != 1 {
		t.Fatalf("zero limits should only disable core dumps, got %d", n)
	}
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv([]string{"LANG=C.UTF-8"})
	if len(env) != 2 || env[1] != defaultPath {
		t.Fatalf("default PATH not added: %v", env)
	}
	custom := []string{"PATH=/opt/bin"}
	if got := buildEnv(custom); len(got) != 1 || got[0] != "PATH=/opt/bin" {
		t.Fatalf("custom PATH replaced: %v", got)
	}
}

func TestParseSeccompAction(t *testing.T) {
	tests := []struct {
		in      string
		want    seccomp.ScmpAction
		wantErr bool
	}{
		{"SCMP_ACT_ALLOW", seccomp.ActAllow, false},
		{"scmp_act_kill", seccomp.ActKillProcess, false},
		{"SCMP_ACT_KILL_PROCESS", seccomp.ActKillProcess, false},
		{"SCMP_ACT_TRACE", seccomp.ActKillProcess, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSeccompAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Fatalf("action = %v, want %v", got, tt.want)
			}
		})
	}
	errno, err := parseSeccompAction("SCMP_ACT_ERRNO")
	if err != nil || errno.GetReturnCode() != int16(unix.EPERM) {
		t.Fatalf("errno action = %v %v", errno, err)
	}
}
