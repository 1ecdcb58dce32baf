// Package spec defines the execution specification and resource limits.
package spec

import "time"

// Policy is the process-wide resource policy applied to every test case.
type Policy struct {
	Timeout            time.Duration
	MemoryLimitBytes   int64
	CPULimit           float64
	NetworkDisabled    bool
	FilesystemReadOnly bool
	RunAsUser          string // uid[:gid]
	PIDsLimit          int64
	OutputLimitBytes   int64
}

const (
	DefaultTimeout          = 5 * time.Second
	DefaultMemoryLimitBytes = 128 * 1024 * 1024
	DefaultCPULimit         = 0.5
	DefaultPIDsLimit        = 64
	DefaultOutputLimitBytes = 1024 * 1024
	DefaultRunAsUser        = "65534:65534"
)

// WithDefaults fills zero fields with the package defaults.
// Booleans are left alone since false is a meaningful choice.
func (p Policy) WithDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MemoryLimitBytes <= 0 {
		p.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if p.CPULimit <= 0 {
		p.CPULimit = DefaultCPULimit
	}
	if p.PIDsLimit <= 0 {
		p.PIDsLimit = DefaultPIDsLimit
	}
	if p.OutputLimitBytes <= 0 {
		p.OutputLimitBytes = DefaultOutputLimitBytes
	}
	if p.RunAsUser == "" {
		p.RunAsUser = DefaultRunAsUser
	}
	return p
}

// DefaultPolicy returns the hardened default policy.
func DefaultPolicy() Policy {
	return Policy{NetworkDisabled: true, FilesystemReadOnly: true}.WithDefaults()
}

// Limits returns the per-run limits derived from the policy.
func (p Policy) Limits() ResourceLimit {
	return ResourceLimit{
		WallTime:    p.Timeout,
		MemoryBytes: p.MemoryLimitBytes,
		CPUs:        p.CPULimit,
		PIDs:        p.PIDsLimit,
		OutputBytes: p.OutputLimitBytes,
	}
}

// ResourceLimit describes hard limits enforced for one process.
type ResourceLimit struct {
	WallTime    time.Duration
	CPUTime     time.Duration
	MemoryBytes int64
	CPUs        float64
	PIDs        int64
	OutputBytes int64
	// AddressSpaceBytes is applied as RLIMIT_AS by exec-init when set.
	AddressSpaceBytes int64
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is the unified execution specification for one process.
type RunSpec struct {
	SessionID string
	TaskID    string // "compile" or the test index
	Image     string // container image, sandboxed engine only
	WorkDir   string
	Cmd       []string
	Env       []string
	// HostDir is the host directory that backs WorkDir.
	HostDir            string
	BindMounts         []MountSpec
	Limits             ResourceLimit
	NetworkDisabled    bool
	FilesystemReadOnly bool
	User               string
}
