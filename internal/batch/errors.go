package batch

import "fmt"

// ConfigurationError reports an operation invoked with a run in the wrong state, such as a
// retry of a job that has not failed or a second Advance on a busy run.
type ConfigurationError struct {
	Op      string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: configuration error: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Op, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}
