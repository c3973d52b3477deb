package provision

import "fmt"

// ProvisionError wraps any failure while fetching or installing a bundle.
// The bundle is retried on the next launch.
type ProvisionError struct {
	Bundle string
	Op     string // "download", "verify", "extract", "install"
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Bundle, e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// DownloadError reports a non-success HTTP status.
type DownloadError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %s", e.URL, e.Status)
}
