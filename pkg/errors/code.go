package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission errors (rejected before any test case runs)
// 13100-13199: Execution errors (raised while running one test case)
// 13200-13299: Sandbox backend errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Cancelled           ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission Errors (13000-13099) ==========

	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	WorkspaceSetupFailed ErrorCode = 13006
	TooManyTestCases     ErrorCode = 13007

	// ========== Execution Errors (13100-13199) ==========

	ExecutorUnavailable  ErrorCode = 13100
	ExecutionSystemError ErrorCode = 13101
	CompilationError     ErrorCode = 13102
	RuntimeError         ErrorCode = 13103
	TimeLimitExceeded    ErrorCode = 13104
	MemoryLimitExceeded  ErrorCode = 13105
	OutputLimitExceeded  ErrorCode = 13106
	HarnessError         ErrorCode = 13107
	EntryPointNotFound   ErrorCode = 13108
	ForbiddenStatement   ErrorCode = 13109
	NotImplemented       ErrorCode = 13110

	// ========== Sandbox Backend Errors (13200-13299) ==========

	ContainerCreateFailed ErrorCode = 13200
	ContainerStartFailed  ErrorCode = 13201
	ImageUnavailable      ErrorCode = 13202
	CgroupSetupFailed     ErrorCode = 13203
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Cancelled:           "execution cancelled",

	// Database
	DatabaseError: "Database operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "unsupported language",
	WorkspaceSetupFailed: "Failed to prepare execution workspace",
	TooManyTestCases:     "Too many test cases",

	// Execution
	ExecutorUnavailable:  "Executor is not available",
	ExecutionSystemError: "Execution system error",
	CompilationError:     "Compilation error",
	RuntimeError:         "Runtime error",
	TimeLimitExceeded:    "execution timeout exceeded",
	MemoryLimitExceeded:  "Memory limit exceeded",
	OutputLimitExceeded:  "Output limit exceeded",
	HarnessError:         "Failed to prepare test harness",
	EntryPointNotFound:   "no function found",
	ForbiddenStatement:   "forbidden SQL operation",
	NotImplemented:       "not implemented",

	// Sandbox backend
	ContainerCreateFailed: "Failed to create sandbox container",
	ContainerStartFailed:  "Failed to start sandbox container",
	ImageUnavailable:      "Sandbox image is not available",
	CgroupSetupFailed:     "Failed to set up cgroup",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsSetupClass reports whether errors with this code abort a whole submission.
// Everything else is absorbed into a per-test result.
func (c ErrorCode) IsSetupClass() bool {
	switch c {
	case LanguageNotSupported, WorkspaceSetupFailed, ValidationFailed, RequiredFieldEmpty,
		InvalidParams, InvalidFormat, ExecutorUnavailable, CodeTooLarge, TooManyTestCases:
		return true
	default:
		return false
	}
}
