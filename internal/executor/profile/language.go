// Package profile defines the supported languages and how to build and run them.
package profile

import (
	"strings"
	"time"
)

// LanguageID identifies a supported submission language.
type LanguageID string

const (
	JavaScript LanguageID = "javascript"
	Python     LanguageID = "python"
	SQL        LanguageID = "sql"
	Java       LanguageID = "java"
	Cpp        LanguageID = "cpp"
)

// ParseLanguageID normalizes a caller supplied language id.
func ParseLanguageID(raw string) LanguageID {
	return LanguageID(strings.ToLower(strings.TrimSpace(raw)))
}

// LanguageSpec defines how to compile and run a language.
//
// Command templates are split with shell rules after expansion. Supported
// placeholders: {src} {sources} {srcdir} {bin} {main} {input}, plus any key
// of Vars.
type LanguageSpec struct {
	ID                 LanguageID        `yaml:"id"`
	Name               string            `yaml:"name"`
	Image              string            `yaml:"image"`
	SourceFile         string            `yaml:"sourceFile"`
	BinaryFile         string            `yaml:"binaryFile"`
	CompileEnabled     bool              `yaml:"compileEnabled"`
	CompileCmdTpl      string            `yaml:"compileCmd"`
	RunCmdTpl          string            `yaml:"runCmd"`
	Env                []string          `yaml:"env"`
	Vars               map[string]string `yaml:"vars"`
	CompileTimeout     time.Duration     `yaml:"compileTimeout"`
	CompileMemoryBytes int64             `yaml:"compileMemoryBytes"`
	// LimitAddressSpace applies the memory limit as RLIMIT_AS in the direct
	// engine. JIT runtimes reserve far more address space than they use.
	LimitAddressSpace bool `yaml:"limitAddressSpace"`
}

const (
	defaultCompileTimeout     = 30 * time.Second
	defaultCompileMemoryBytes = 1 << 30
	defaultPath               = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:         JavaScript,
			Name:       "JavaScript (Node.js)",
			Image:      "node:20-alpine",
			SourceFile: "solution.js",
			RunCmdTpl:  "node --max-old-space-size=96 {src} {input}",
			Env:        []string{defaultPath, "NODE_OPTIONS="},
		},
		{
			ID:         Python,
			Name:       "Python 3",
			Image:      "python:3.12-alpine",
			SourceFile: "solution.py",
			RunCmdTpl:  "python3 -I -B {srcdir}/harness.py {src} {input}",
			Env:        []string{defaultPath, "PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
			// CPython reserves little virtual memory, so RLIMIT_AS is safe.
			LimitAddressSpace: true,
		},
		{
			ID:   SQL,
			Name: "SQL (PostgreSQL)",
		},
		{
			ID:             Java,
			Name:           "Java 21",
			Image:          "codexec/java:21",
			CompileEnabled: true,
			CompileCmdTpl:  "javac -encoding UTF-8 -nowarn -cp {classpath} -d {srcdir} {sources}",
			RunCmdTpl:      "java -XX:+UseSerialGC -XX:-UsePerfData -Xss64m -cp {srcdir}:{classpath} {main} {input}",
			Env:            []string{defaultPath},
			Vars:           map[string]string{"classpath": "/opt/codexec/lib/gson.jar"},
		},
		{
			ID:                Cpp,
			Name:              "C++17 (GCC)",
			Image:             "codexec/cpp:13",
			SourceFile:        "solution.cpp",
			BinaryFile:        "solution",
			CompileEnabled:    true,
			CompileCmdTpl:     "g++ -std=c++17 -O2 -pipe -I{include} -o {bin} {src}",
			RunCmdTpl:         "./{bin} {input}",
			Env:               []string{defaultPath},
			Vars:              map[string]string{"include": "/usr/include"},
			LimitAddressSpace: true,
		},
	}
}

// withDefaults fills compile settings that a partial override may omit.
func (l LanguageSpec) withDefaults() LanguageSpec {
	if l.CompileEnabled {
		if l.CompileTimeout <= 0 {
			l.CompileTimeout = defaultCompileTimeout
		}
		if l.CompileMemoryBytes <= 0 {
			l.CompileMemoryBytes = defaultCompileMemoryBytes
		}
	}
	if len(l.Env) == 0 {
		l.Env = []string{defaultPath}
	}
	return l
}

// merge overlays the non-zero fields of override onto l.
func (l LanguageSpec) merge(override LanguageSpec) LanguageSpec {
	if override.Name != "" {
		l.Name = override.Name
	}
	if override.Image != "" {
		l.Image = override.Image
	}
	if override.SourceFile != "" {
		l.SourceFile = override.SourceFile
	}
	if override.BinaryFile != "" {
		l.BinaryFile = override.BinaryFile
	}
	if override.CompileCmdTpl != "" {
		l.CompileCmdTpl = override.CompileCmdTpl
	}
	if override.RunCmdTpl != "" {
		l.RunCmdTpl = override.RunCmdTpl
	}
	if len(override.Env) > 0 {
		l.Env = override.Env
	}
	if override.CompileTimeout > 0 {
		l.CompileTimeout = override.CompileTimeout
	}
	if override.CompileMemoryBytes > 0 {
		l.CompileMemoryBytes = override.CompileMemoryBytes
	}
	if len(override.Vars) > 0 {
		vars := make(map[string]string, len(l.Vars)+len(override.Vars))
		for k, v := range l.Vars {
			vars[k] = v
		}
		for k, v := range override.Vars {
			vars[k] = v
		}
		l.Vars = vars
	}
	return l
}
