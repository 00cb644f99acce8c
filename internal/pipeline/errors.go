package pipeline

import "fmt"

// ConfigurationError reports an operation invoked while the session is in the wrong state.
// It is a caller bug and should not be retried.
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

// InvalidTransitionError reports a navigation the stage ordering does not allow: a GoTo
// ahead of the active stage or a Skip of the first stage.
type InvalidTransitionError struct {
	Op      string
	From    int
	To      int
	Message string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition from stage %d to %d: %s", e.Op, e.From, e.To, e.Message)
}
