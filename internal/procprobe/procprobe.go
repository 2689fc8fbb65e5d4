// Package procprobe answers one question: is a browser process currently
// running? It scans /proc directly rather than shelling out to pgrep/ps, so
// it has no external dependency beyond a readable procfs.
package procprobe

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// Running reports whether any process whose /proc/<pid>/comm matches
// procName (exact match, trailing newline stripped) is currently running.
// Processes this call cannot inspect (already exited, or permission denied)
// are treated as not-a-match rather than as an error, matching the original
// get_pid's best-effort semantics: a transient scan failure must never block
// a sync/unsync action.
func Running(procName string) (bool, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}

		comm, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			continue
		}

		if bytes.Equal(bytes.TrimRight(comm, "\n"), []byte(procName)) {
			return true, nil
		}
	}

	return false, nil
}
