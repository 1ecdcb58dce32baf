// Package workspace defines the session directory layout and its lifecycle.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	srcDirName   = "src"
	testsDirName = "tests"
	inputName    = "input.json"
)

// Layout describes the scratch directory of one session.
//
//	<root>/<session>/src/...              generated program and build output
//	<root>/<session>/tests/<index>/input.json
type Layout struct {
	Root      string
	SessionID string
}

// New returns the layout of a session under root.
func New(root, sessionID string) Layout {
	return Layout{Root: root, SessionID: sessionID}
}

// Dir is the host directory owned by the session.
func (l Layout) Dir() string {
	return filepath.Join(l.Root, l.SessionID)
}

// SrcDir is the host directory holding generated sources.
func (l Layout) SrcDir() string {
	return filepath.Join(l.Dir(), srcDirName)
}

// SrcRel is SrcDir relative to the session directory.
func (l Layout) SrcRel() string {
	return srcDirName
}

// InputRel is the input file of test index relative to the session directory.
func (l Layout) InputRel(index int) string {
	return filepath.Join(testsDirName, strconv.Itoa(index), inputName)
}

// Ensure creates the session directories. It is idempotent.
func (l Layout) Ensure() error {
	if l.Root == "" || l.SessionID == "" {
		return fmt.Errorf("workspace root and session id are required")
	}
	if err := os.MkdirAll(l.Root, 0755); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}
	for _, dir := range []string{l.Dir(), filepath.Join(l.Dir(), testsDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	// Compilers inside containers run as an unprivileged uid and write here.
	if err := os.MkdirAll(l.SrcDir(), 0755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	if err := os.Chmod(l.SrcDir(), 0777); err != nil {
		return fmt.Errorf("chmod source dir: %w", err)
	}
	return nil
}

// WriteSource writes a generated file into the source directory.
func (l Layout) WriteSource(name string, content []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid source file name %q", name)
	}
	return os.WriteFile(filepath.Join(l.SrcDir(), name), content, 0644)
}

// WriteInput stores the encoded input of one test case and returns its
// path relative to the session directory.
func (l Layout) WriteInput(index int, data []byte) (string, error) {
	rel := l.InputRel(index)
	path := filepath.Join(l.Dir(), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create test dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write input: %w", err)
	}
	return rel, nil
}

// Purge removes every file of the session.
func (l Layout) Purge() error {
	if l.Root == "" || l.SessionID == "" {
		return nil
	}
	return os.RemoveAll(l.Dir())
}
