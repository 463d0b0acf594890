// Package state owns the runtime folder layout under the cache path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved runtime directories.
type Paths struct {
	Store string // pebble cache
	State string // runtime state (crash dumps, tmp)
	Crash string
	Tmp   string
}

// PathsVar is populated by EnsureStateDirs during startup.
var PathsVar Paths

// EnsureStateDirs ensures the canonical layout exists under cachePath:
// <cachePath>/store for the pebble DB and <cachePath>/state for runtime
// artifacts. Paths must be real directories, not symlinks, and writable.
func EnsureStateDirs(cachePath string) error {
	storePath := filepath.Join(cachePath, "store")
	statePath := filepath.Join(cachePath, "state")
	crashPath := filepath.Join(statePath, "crash")
	tmpPath := filepath.Join(statePath, "tmp")

	for _, p := range []string{storePath, crashPath, tmpPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}
		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
		}
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}
		// writability check
		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		name := tmp.Name()
		_ = tmp.Close()
		_ = os.Remove(name)
	}

	PathsVar = Paths{Store: storePath, State: statePath, Crash: crashPath, Tmp: tmpPath}
	return nil
}
