//go:build !windows

package service

// ReportStartupError is a no-op outside Windows; the startup-error file
// covers these platforms.
func ReportStartupError(err error) {}
