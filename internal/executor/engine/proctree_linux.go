//go:build linux

package engine

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// maxFreezeRounds bounds the stop-and-rescan loop in killTree.
const maxFreezeRounds = 16

// killTree stops root and every descendant, rescanning until no new process
// shows up, then kills them all. Descendants that left the process group
// with setsid are still reached through their parent links.
func killTree(root int) {
	if root <= 0 {
		return
	}
	_ = syscall.Kill(root, syscall.SIGSTOP)
	stopped := map[int]bool{root: true}
	for round := 0; round < maxFreezeRounds; round++ {
		fresh := false
		for _, pid := range descendants(root) {
			if stopped[pid] {
				continue
			}
			_ = syscall.Kill(pid, syscall.SIGSTOP)
			stopped[pid] = true
			fresh = true
		}
		if !fresh {
			break
		}
	}
	for pid := range stopped {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	killProcessGroup(root)
}

// descendants walks /proc and returns every process below root.
func descendants(root int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	children := make(map[int][]int)
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ppid, err := readPPID(pid)
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], pid)
	}

	var out []int
	queue := []int{root}
	seen := map[int]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func readPPID(pid int) (int, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}
	return parseStatPPID(data)
}

// parseStatPPID reads the parent pid out of a /proc/<pid>/stat line. The
// command name may itself contain spaces and parentheses.
func parseStatPPID(stat []byte) (int, error) {
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := bytes.Fields(stat[end+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat line")
	}
	return strconv.Atoi(string(fields[1]))
}
