//go:build linux

package engine

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
)

var (
	namespacesOnce sync.Once
	namespacesOK   bool
)

// namespacesSupported reports whether this host lets an unprivileged process
// create user and pid namespaces. The answer comes from one trial run of true.
func namespacesSupported() bool {
	namespacesOnce.Do(func() {
		path, err := exec.LookPath("true")
		if err != nil {
			return
		}
		cmd := exec.Command(path)
		cmd.SysProcAttr = buildSysProcAttr(true, false)
		namespacesOK = cmd.Run() == nil
	})
	return namespacesOK
}

// buildSysProcAttr puts the process in its own group. With namespaces it
// also becomes init of a fresh pid namespace, so the kernel kills every
// process left inside once it dies.
func buildSysProcAttr(enableNamespaces, disableNetwork bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if disableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
