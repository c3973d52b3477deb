package procrun

import (
	"fmt"
	"time"
)

// SpawnError reports that the OS refused to start a command.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that a command outlived its deadline. The process
// has already been killed and dropped from the live set.
type TimeoutError struct {
	Path  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Path, e.After)
}
