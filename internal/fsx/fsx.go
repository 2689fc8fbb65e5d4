// Package fsx implements FsAdapter: the narrow filesystem primitive surface
// every other core component is built on. Above this package, the only raw
// os.* tree-level call is the overlay controller's os.RemoveAll of its upper
// and work directories.
package fsx

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/borfs/bor/pkg/filesystem"
	"github.com/borfs/bor/pkg/logging"
	"github.com/borfs/bor/pkg/process"
)

// Adapter is the narrow filesystem surface used throughout bor's core. The
// zero value is not usable; construct with New.
type Adapter struct {
	logger    *logging.Logger
	rsyncPath string
}

// New constructs an Adapter, locating the rsync binary on PATH. rsync is
// treated as an external collaborator invoked through this adapter, per the
// narrow-interface boundary around content-aware copying.
func New(logger *logging.Logger) (*Adapter, error) {
	path, err := process.FindCommand("rsync", filepath.SplitList(os.Getenv("PATH")))
	if err != nil {
		return nil, fmt.Errorf("unable to locate rsync: %w", err)
	}
	return &Adapter{logger: logger, rsyncPath: path}, nil
}

// excludedNames are internally-generated session markers that copy-tree must
// never propagate into a destination tree.
var excludedNames = []string{
	"targets.txt",
	"bor-crash_*",
}

// CopyTree recursively copies src to dst, preserving mode, timestamps, and
// extended attributes. It's idempotent: running it again over a
// partially-completed prior copy converges rather than failing. If
// includeRoot is false, src's contents are copied into dst (which must
// already exist); if true, src itself is copied as a new entry inside dst
// (arriving at dst/<base name of src>).
//
// Special files (sockets, FIFOs) found under src are skipped silently
// rather than causing a failure.
func (a *Adapter) CopyTree(src, dst string, includeRoot bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("unable to create destination parent: %w", err)
	}

	sourceArg := src
	if !includeRoot {
		sourceArg = src + string(os.PathSeparator)
		if err := os.MkdirAll(dst, 0755); err != nil {
			return fmt.Errorf("unable to create destination: %w", err)
		}
	}

	args := []string{
		"--archive",
		"--acls",
		"--xattrs",
		"--no-specials",
	}
	for _, name := range excludedNames {
		args = append(args, "--exclude="+name)
	}
	args = append(args, sourceArg, dst)

	cmd := exec.Command(a.rsyncPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync failed: %w (output: %s)", err, string(output))
	}

	return nil
}

// MoveTree moves src to dst. It first attempts a plain rename; on
// cross-device errors (EXDEV) it falls back to CopyTree followed by
// RemoveTree. If includeRoot is false, dst must not already exist.
func (a *Adapter) MoveTree(src, dst string, includeRoot bool) error {
	if !includeRoot {
		if _, err := os.Lstat(dst); err == nil {
			return fmt.Errorf("destination %q already exists", dst)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("unable to stat destination: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("unable to create destination parent: %w", err)
	}

	err := filesystem.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !filesystem.IsCrossDeviceError(err) {
		return fmt.Errorf("unable to rename %q to %q: %w", src, dst, err)
	}

	if err := a.CopyTree(src, dst, false); err != nil {
		return fmt.Errorf("cross-device move: copy phase failed: %w", err)
	}
	if err := a.RemoveTree(src); err != nil {
		return fmt.Errorf("cross-device move: source removal failed: %w", err)
	}
	return nil
}

// RemoveTree removes path depth-first, forcing mode 0700 on every
// intermediate directory before unlinking its contents, so that
// owner-readonly trees left by a prior session don't block removal.
func (a *Adapter) RemoveTree(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to stat %q: %w", path, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("unable to remove symlink %q: %w", path, err)
		}
		return nil
	}

	if !info.IsDir() {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("unable to remove %q: %w", path, err)
		}
		return nil
	}

	if err := os.Chmod(path, 0700); err != nil {
		return fmt.Errorf("unable to relax permissions on %q: %w", path, err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("unable to read directory %q: %w", path, err)
	}
	for _, entry := range entries {
		if err := a.RemoveTree(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("unable to remove directory %q: %w", path, err)
	}
	return nil
}

// AtomicSwap atomically exchanges the directory entries named by a and b,
// which must be sibling paths within the same directory. On success, each
// name refers to what the other previously did. Both entries must already
// exist. This is the kernel-level RENAME_EXCHANGE primitive, used both for
// the core's symlink-swap sequencing and by OverlayController's reset.
func AtomicSwap(a, b string) error {
	if err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE); err != nil {
		return fmt.Errorf("unable to exchange %q and %q: %w", a, b, err)
	}
	return nil
}

// UniquePath returns the first of base, base-1, base-2, ... that does not
// exist in base's parent directory. It gives up after maxUniqueAttempts
// tries.
const maxUniqueAttempts = 1000

func UniquePath(base string) (string, error) {
	if _, err := os.Lstat(base); os.IsNotExist(err) {
		return base, nil
	}

	for i := 1; i <= maxUniqueAttempts; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("unable to find unique name for %q after %d attempts", base, maxUniqueAttempts)
}

// Safe reports whether path is "owner-safe": lstat shows the owner matches
// the current user and mode bits include at least 0600. The parent directory
// must also be safe; Safe checks both and returns false (with no error) for
// ordinary safety failures, reserving the error return for unexpected
// lookup failures.
func Safe(path string) (bool, error) {
	ok, err := safeOne(path)
	if err != nil || !ok {
		return ok, err
	}
	return safeOne(filepath.Dir(path))
}

func safeOne(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("unable to stat %q: %w", path, err)
	}

	uid, _, err := filesystem.GetOwnership(info)
	if err != nil {
		return false, fmt.Errorf("unable to extract ownership for %q: %w", path, err)
	}

	current := os.Getuid()
	if uid != current {
		return false, nil
	}

	mode, err := filesystem.GetMode(info)
	if err != nil {
		return false, fmt.Errorf("unable to extract mode for %q: %w", path, err)
	}
	if mode&filesystem.ModePermissionsMask&0600 != 0600 {
		return false, nil
	}

	return true, nil
}
