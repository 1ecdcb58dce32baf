//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codexec/internal/executor/spec"
)

const (
	cpuPeriodUs       = 100000
	cgroup2SuperMagic = 0x63677270
)

func createRunCgroup(root, sessionID, taskID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%d", taskID, time.Now().UnixNano())
	cgroupPath := filepath.Join(root, sessionID, runDir)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(cgroupPath)
		// The session level directory goes once its last run is gone.
		_ = os.Remove(filepath.Dir(cgroupPath))
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryBytes > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
		if err := writeCgroupValue(cgroupPath, "memory.swap.max", "0"); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := writeCgroupValue(cgroupPath, "cpu.max", cpuMaxValue(limits.CPUs)); err != nil {
		return err
	}
	return nil
}

// cpuMaxValue renders a fractional core count as a cgroup v2 cpu.max quota.
func cpuMaxValue(cpus float64) string {
	if cpus <= 0 {
		return fmt.Sprintf("max %d", cpuPeriodUs)
	}
	quota := int64(cpus * cpuPeriodUs)
	if quota < 1000 {
		quota = 1000
	}
	return fmt.Sprintf("%d %d", quota, cpuPeriodUs)
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

// isCgroup2 reports whether path lives on a cgroup v2 filesystem.
func isCgroup2(path string) bool {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return false
	}
	return int64(fs.Type) == cgroup2SuperMagic
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
