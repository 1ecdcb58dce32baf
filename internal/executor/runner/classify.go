package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"codexec/internal/executor/harness"
	"codexec/internal/executor/result"
	appErr "codexec/pkg/errors"
)

// Classify maps a raw run into an outcome. Checks run in this order:
// cancellation, timeout, the ERROR: marker, non-zero exit, then stdout,
// which is parsed as JSON and falls back to the trimmed text.
func Classify(res result.RunResult) result.Outcome {
	out := result.Outcome{
		TimeMs:   res.WallTimeMs,
		MemoryKB: res.MemoryKB,
	}
	switch {
	case res.Cancelled:
		out.Cancelled = true
		out.Error = appErr.Cancelled.Message()
		return out
	case res.TimedOut:
		out.TimedOut = true
		out.Error = appErr.TimeLimitExceeded.Message()
		return out
	}

	if msg, ok := markedError(res.Stderr); ok {
		out.Error = msg
		return out
	}
	if res.ExitCode != 0 {
		switch {
		case res.OomKilled:
			out.Error = appErr.MemoryLimitExceeded.Message()
		case strings.TrimSpace(res.Stderr) != "":
			out.Error = strings.TrimSpace(res.Stderr)
		default:
			out.Error = fmt.Sprintf("process exited with code %d", res.ExitCode)
		}
		return out
	}
	if res.OutputTruncated {
		out.Error = appErr.OutputLimitExceeded.Message()
		return out
	}

	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		// No output at all is not a value, not even an empty string.
		out.Error = "no output produced"
		return out
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		out.Actual = parsed
		return out
	}
	out.Actual = text
	return out
}

// markedError returns the text after the first ERROR: marker in stderr.
func markedError(stderr string) (string, bool) {
	idx := strings.Index(stderr, harness.ErrorMarker)
	if idx < 0 {
		return "", false
	}
	msg := strings.TrimSpace(stderr[idx+len(harness.ErrorMarker):])
	if msg == "" {
		msg = "unknown error"
	}
	return msg, true
}
