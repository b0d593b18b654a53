package core

import "fmt"

// ValidationError reports a caller supplied value that was rejected before
// any work was done.
type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// StageError reports the step of a multi-step operation that failed. Stage
// is a short message safe to show to callers; Err carries the detail.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
