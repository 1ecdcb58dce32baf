package engine

import "codexec/internal/executor/spec"

// initRequest is decoded by cmd/exec-init from its stdin.
type initRequest struct {
	WorkDir        string
	Cmd            []string
	Env            []string
	Limits         spec.ResourceLimit
	EnableSeccomp  bool
	SeccompProfile string
}

func newInitRequest(cfg Config, runSpec spec.RunSpec) initRequest {
	return initRequest{
		WorkDir:        runSpec.HostDir,
		Cmd:            runSpec.Cmd,
		Env:            runSpec.Env,
		Limits:         runSpec.Limits,
		EnableSeccomp:  cfg.EnableSeccomp,
		SeccompProfile: cfg.SeccompProfile,
	}
}
