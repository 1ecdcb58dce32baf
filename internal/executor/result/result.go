// Package result defines execution results at each layer: raw process data,
// classified outcomes and the per-test results handed back to callers.
package result

// Status is the coarse outcome of one test case, used for metrics and logs.
type Status string

const (
	StatusPassed       Status = "passed"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusCompileError Status = "compile_error"
)

// RunResult captures raw data from one process or container run.
type RunResult struct {
	ExitCode        int
	WallTimeMs      int64
	CPUTimeMs       int64
	MemoryKB        int64
	Stdout          string
	Stderr          string
	TimedOut        bool
	Cancelled       bool
	OomKilled       bool
	OutputTruncated bool
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimeMs   int64
	MemoryKB int64
	TimedOut bool
	Error    string
}

// Outcome is one run classified into the actual value or an error message.
type Outcome struct {
	Actual    any
	Error     string
	TimeMs    int64
	MemoryKB  int64
	TimedOut  bool
	Cancelled bool
}

// Failed reports whether the run produced an error instead of a value.
func (o Outcome) Failed() bool {
	return o.Error != ""
}

// TestCase is one input/expected pair supplied by the caller.
type TestCase struct {
	ID       string `json:"id,omitempty"`
	Input    any    `json:"input"`
	Expected any    `json:"expected"`
	IsHidden bool   `json:"is_hidden,omitempty"`
}

// TestResult is the outcome of one test case, index-aligned with the input.
type TestResult struct {
	ID              string  `json:"id,omitempty"`
	Input           any     `json:"input"`
	Expected        any     `json:"expected"`
	Actual          any     `json:"actual"`
	Passed          bool    `json:"passed"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	Error           *string `json:"error"`
	MemoryUsed      *string `json:"memory_used"`
	TimedOut        bool    `json:"timed_out,omitempty"`
	Cancelled       bool    `json:"cancelled,omitempty"`
	IsHidden        bool    `json:"is_hidden,omitempty"`
}

// Status maps the result to its coarse outcome.
func (r TestResult) Status() Status {
	switch {
	case r.Cancelled:
		return StatusCancelled
	case r.TimedOut:
		return StatusTimeout
	case r.Error != nil:
		return StatusError
	case r.Passed:
		return StatusPassed
	default:
		return StatusFailed
	}
}
