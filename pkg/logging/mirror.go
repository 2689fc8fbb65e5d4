package logging

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// mirrorMu guards the package-level log mirror state. There is only ever one
// mirror active per process, mirroring the single static LOG_FILE the
// logging mechanism here is grounded on.
var mirrorMu sync.Mutex
var mirrorFile *os.File

// EnableMirror opens (creating if necessary) the on-disk log mirror at path
// and appends a new session header to it, rotating out old sessions so that
// at most maxEntries session headers remain. maxEntries == 0 disables the
// mirror outright: any existing mirror file is removed and no further lines
// are written to one.
//
// A "session" is delimited by a header line of the form "<02-01-06
// 15:04:05>"; rotation counts these headers rather than raw lines.
func EnableMirror(path string, maxEntries int) error {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()

	if mirrorFile != nil {
		mirrorFile.Close()
		mirrorFile = nil
	}

	if maxEntries == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unable to remove disabled log mirror: %w", err)
		}
		return nil
	}

	if err := rotateMirror(path, maxEntries); err != nil {
		return fmt.Errorf("unable to rotate log mirror: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("unable to open log mirror: %w", err)
	}

	fmt.Fprintf(file, "\n<%s>\n", time.Now().Format("02-01-06 15:04:05"))
	mirrorFile = file
	return nil
}

// rotateMirror drops the oldest sessions from the mirror file at path so
// that, once the new session header this call is in service of is added,
// at most maxEntries sessions remain. It writes the retained tail to a
// sibling temporary file and exchanges the two with RENAME_EXCHANGE, the
// same atomic-swap primitive the core uses for its symlink swaps.
func rotateMirror(path string, maxEntries int) error {
	existing, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to open existing log mirror: %w", err)
	}
	defer existing.Close()

	var lines []string
	sessionCount := 0
	scanner := bufio.NewScanner(existing)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "<") {
			sessionCount++
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unable to scan existing log mirror: %w", err)
	}

	toRemove := sessionCount - maxEntries + 1
	if toRemove <= 0 {
		return nil
	}

	temporaryPath := path + ".rotate-tmp"
	temporary, err := os.OpenFile(temporaryPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create rotation temporary file: %w", err)
	}

	writer := bufio.NewWriter(temporary)
	removed := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "<") {
			removed++
		}
		if removed > toRemove {
			fmt.Fprintln(writer, line)
		}
	}
	if err := writer.Flush(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("unable to flush rotation temporary file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("unable to close rotation temporary file: %w", err)
	}

	if err := unix.Renameat2(unix.AT_FDCWD, path, unix.AT_FDCWD, temporaryPath, unix.RENAME_EXCHANGE); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("unable to exchange rotated log mirror: %w", err)
	}
	return os.Remove(temporaryPath)
}

// mirror writes a formatted line to the active log mirror, if any. It is a
// no-op when no mirror is enabled.
func mirror(line string) {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	if mirrorFile == nil {
		return
	}
	fmt.Fprintln(mirrorFile, line)
}
