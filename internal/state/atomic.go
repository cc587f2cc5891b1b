// Package state writes the operational artefacts that must survive a
// process restart: the daily workflow snapshot and the circuit breaker
// state file. Writes go through a temp file + rename so a crash never
// leaves a half-written file behind.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path with the given permissions. The
// parent directory is created when missing. Readers either see the old
// content or the new content, never a partial write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
