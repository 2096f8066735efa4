package migration

import (
	"fmt"

	"github.com/GoCodeAlone/schemachain/scripts"
)

// ExecutionFailure reports a script that failed and aborted the run. The run
// can be repeated; scripts that completed before the failure are skipped.
type ExecutionFailure struct {
	RunID  string
	Item   string
	Phase  scripts.Phase
	Script string
	Cause  error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("run %s: %s of %s in phase %s failed: %v", e.RunID, e.Script, e.Item, e.Phase, e.Cause)
}

func (e *ExecutionFailure) Unwrap() error { return e.Cause }
