// Package harness turns user source into a runnable program with a fixed
// contract: the input arrives as a JSON file named by the last argument, the
// result leaves as one JSON line on stdout, and failures are reported on
// stderr after the ERROR: marker.
package harness

import (
	"bytes"
	"embed"
	"regexp"
	"strings"
	"text/template"

	"codexec/internal/executor/profile"
	appErr "codexec/pkg/errors"
)

// ErrorMarker prefixes failures written to stderr by every harness.
const ErrorMarker = "ERROR:"

//go:embed assets
var assets embed.FS

var javaTemplates = template.Must(template.ParseFS(assets, "assets/*.java.tmpl"))

var cppEntry = regexp.MustCompile(`\bsolution\s*\(`)

// Artifact is the set of generated files for one session.
type Artifact struct {
	Files   map[string][]byte
	Sources []string // compiler inputs, primary source first
	Binary  string
	Main    string // entry class or symbol, language dependent
}

// Source returns the primary source file name.
func (a Artifact) Source() string {
	if len(a.Sources) == 0 {
		return ""
	}
	return a.Sources[0]
}

// Prepare builds the artifact for code. token must be unique per session;
// it namespaces generated Java classes.
func Prepare(lang profile.LanguageSpec, code, token string) (Artifact, error) {
	switch lang.ID {
	case profile.JavaScript:
		return prepareJavaScript(lang, code)
	case profile.Python:
		return preparePython(lang, code)
	case profile.Java:
		return prepareJava(code, token)
	case profile.Cpp:
		return prepareCpp(lang, code)
	case profile.SQL:
		return Artifact{}, appErr.Newf(appErr.HarnessError, "sql has no process harness")
	default:
		if lang.SourceFile == "" {
			return Artifact{}, appErr.Newf(appErr.HarnessError, "language %s has no source file", lang.ID)
		}
		// Languages added through configuration read the input path themselves.
		return Artifact{
			Files:   map[string][]byte{lang.SourceFile: []byte(code)},
			Sources: []string{lang.SourceFile},
			Binary:  lang.BinaryFile,
		}, nil
	}
}

func prepareJavaScript(lang profile.LanguageSpec, code string) (Artifact, error) {
	prelude, err := assets.ReadFile("assets/prelude.js")
	if err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "load javascript prelude failed")
	}
	trailer, err := assets.ReadFile("assets/trailer.js")
	if err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "load javascript trailer failed")
	}
	var buf bytes.Buffer
	buf.Write(bytes.TrimRight(prelude, "\n"))
	buf.WriteString("\n")
	buf.WriteString(code)
	buf.WriteString("\n")
	buf.Write(trailer)
	return Artifact{
		Files:   map[string][]byte{lang.SourceFile: buf.Bytes()},
		Sources: []string{lang.SourceFile},
	}, nil
}

func preparePython(lang profile.LanguageSpec, code string) (Artifact, error) {
	runner, err := assets.ReadFile("assets/harness.py")
	if err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "load python harness failed")
	}
	return Artifact{
		Files: map[string][]byte{
			lang.SourceFile: []byte(code),
			"harness.py":    runner,
		},
		Sources: []string{lang.SourceFile},
	}, nil
}

func prepareJava(code, token string) (Artifact, error) {
	suffix := sanitizeToken(token)
	if suffix == "" {
		return Artifact{}, appErr.ValidationError("session_token", "required")
	}
	data := struct {
		Class  string
		Runner string
		Code   string
	}{
		Class:  "Solution_" + suffix,
		Runner: "Runner_" + suffix,
		Code:   code,
	}
	var solution, runner bytes.Buffer
	if err := javaTemplates.ExecuteTemplate(&solution, "Solution.java.tmpl", data); err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "render java solution failed")
	}
	if err := javaTemplates.ExecuteTemplate(&runner, "Runner.java.tmpl", data); err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "render java runner failed")
	}
	solutionFile := data.Class + ".java"
	runnerFile := data.Runner + ".java"
	return Artifact{
		Files: map[string][]byte{
			solutionFile: solution.Bytes(),
			runnerFile:   runner.Bytes(),
		},
		Sources: []string{solutionFile, runnerFile},
		Main:    data.Runner,
	}, nil
}

func prepareCpp(lang profile.LanguageSpec, code string) (Artifact, error) {
	if !cppEntry.MatchString(code) {
		return Artifact{}, appErr.New(appErr.EntryPointNotFound).WithMessage("no function found (define solution)")
	}
	prelude, err := assets.ReadFile("assets/prelude.cpp")
	if err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "load c++ prelude failed")
	}
	trailer, err := assets.ReadFile("assets/trailer.cpp")
	if err != nil {
		return Artifact{}, appErr.Wrapf(err, appErr.HarnessError, "load c++ trailer failed")
	}
	var buf bytes.Buffer
	buf.Write(prelude)
	buf.WriteString(code)
	buf.WriteString("\n")
	buf.Write(trailer)
	return Artifact{
		Files:   map[string][]byte{lang.SourceFile: buf.Bytes()},
		Sources: []string{lang.SourceFile},
		Binary:  lang.BinaryFile,
	}, nil
}

// sanitizeToken keeps characters valid in a Java identifier.
func sanitizeToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
