package tools

import "fmt"

// ValidationError reports a call whose input does not match the tool's
// schema, or a call to a tool that does not exist.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input for %s: %s: %s", e.Tool, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, e.Reason)
}

// ToolExecutionError reports a tool handler that failed, panicked or ran
// out of time.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
