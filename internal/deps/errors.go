package deps

import "fmt"

// InstallError reports a failed pipeline stage. Code is -1 when the stage
// never produced an exit code (spawn failure, timeout).
type InstallError struct {
	Stage string
	Code  int
	Err   error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("install stage %s: exited with code %d", e.Stage, e.Code)
}

func (e *InstallError) Unwrap() error { return e.Err }
