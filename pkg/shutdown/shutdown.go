// Package shutdown provides fatal-error handling with crash diagnostics.
package shutdown

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/state"
)

// Abort logs a fatal error, writes a crash dump with stack traces under
// the cache's state dir, and exits.
func Abort(contextMsg string, err error) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	if path, derr := writeCrashDump(contextMsg, err); derr != nil {
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", path)
	}
	os.Exit(2)
}

func writeCrashDump(reason string, cause error) (string, error) {
	crashDir := state.PathsVar.Crash
	if crashDir == "" {
		crashDir = "./crash"
	}
	if err := os.MkdirAll(crashDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", err)
	}
	path := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fmt.Fprintf(f, "time: %s\nreason: %s\nerror: %v\n\ngoroutines:\n", time.Now().UTC().Format(time.RFC3339), reason, cause)
	_, _ = f.Write(buf[:n])
	return path, nil
}
