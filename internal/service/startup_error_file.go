package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartupErrorFile is the name of the file written by WriteStartupErrorFile.
const StartupErrorFile = "startup-error.log"

// WriteStartupErrorFile records why the supervisor could not start, for
// cases where logging is not initialized yet. Only the latest error is kept.
func WriteStartupErrorFile(logDir, launchID string, err error) {
	_ = os.MkdirAll(logDir, 0755)

	f, ferr := os.Create(filepath.Join(logDir, StartupErrorFile))
	if ferr != nil {
		return
	}
	defer f.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] %s STARTUP ERROR", ts, Name)
	if launchID != "" {
		fmt.Fprintf(f, " launch=%s", launchID)
	}
	fmt.Fprintf(f, "\n%v\n", err)
}
