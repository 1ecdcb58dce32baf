package engine

import (
	"fmt"

	"codexec/internal/executor/spec"
)

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if runSpec.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if runSpec.HostDir == "" {
		return fmt.Errorf("host dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}
