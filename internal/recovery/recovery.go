// Package recovery implements RecoveryWriter: relocation of stray or
// conflicting copies into timestamped crash directories beside a managed
// directory's live path, and their later cleanup.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/borfs/bor/internal/fsx"
)

// timestampLayout matches the literal, observable bor-crash_ suffix format:
// DD-MM-YY_HH:MM:SS.
const timestampLayout = "02-01-06_15:04:05"

// crashPrefix is the literal, observable prefix for recovery directories.
const crashPrefix = "bor-crash_"

// Writer relocates stray copies and cleans them up later. The zero value is
// usable.
type Writer struct {
	Adapter *fsx.Adapter

	// now, when non-nil, overrides time.Now for deterministic tests.
	now func() time.Time
}

// New constructs a Writer bound to the given adapter (used for the
// underlying move).
func New(adapter *fsx.Adapter) *Writer {
	return &Writer{Adapter: adapter}
}

// Relocate moves the stray entry at path (one of the managed directory
// dirname's backup or tmpfs locations) into a timestamped crash directory
// inside parentPath, beside the live path. If the crash directory name is already taken, a numeric
// suffix is appended via UniquePath. The live path itself is never touched.
func (w *Writer) Relocate(parentPath, dirname, path string) error {
	now := time.Now
	if w.now != nil {
		now = w.now
	}

	target := filepath.Join(parentPath, fmt.Sprintf("%s%s_%s", crashPrefix, dirname, now().Format(timestampLayout)))

	unique, err := fsx.UniquePath(target)
	if err != nil {
		return fmt.Errorf("unable to compute crash directory name: %w", err)
	}

	if err := w.Adapter.MoveTree(path, unique, true); err != nil {
		return fmt.Errorf("unable to relocate stray entry %q: %w", path, err)
	}

	return nil
}

// Clean enumerates every crash directory inside parentPath (glob
// bor-crash_*) and removes them.
func (w *Writer) Clean(parentPath string) error {
	pattern := filepath.Join(parentPath, crashPrefix+"*")

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("unable to enumerate crash directories under %q: %w", parentPath, err)
	}

	for _, match := range matches {
		info, err := os.Lstat(match)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("unable to stat %q: %w", match, err)
		}
		if !info.IsDir() {
			continue
		}
		if err := w.Adapter.RemoveTree(match); err != nil {
			return fmt.Errorf("unable to remove crash directory %q: %w", match, err)
		}
	}

	return nil
}
