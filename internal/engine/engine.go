// Package engine implements DirectoryEngine: the sync/unsync/resync/
// clear-cache operations over one already-repaired managed directory.
package engine

import (
	"fmt"
	"os"

	"github.com/borfs/bor/internal/errs"
	"github.com/borfs/bor/internal/fsx"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/pathresolver"
	"github.com/borfs/bor/internal/procprobe"
	"github.com/borfs/bor/pkg/logging"
)

// swapSuffix names the throwaway sibling used during the side-symlink +
// atomic-swap sequence in Sync and Unsync.
const swapSuffix = ".bor-swap"

// Engine drives the four per-directory operations. The zero value is not
// usable; construct with New.
type Engine struct {
	fs     *fsx.Adapter
	logger *logging.Logger
	// running reports whether the browser owning a directory being acted on
	// is currently active, given its process name. Injectable so that the
	// extra post-swap copy this triggers in Sync/Unsync is exercisable from
	// tests without a real process to probe for.
	running func(procName string) bool
}

// New constructs an Engine, wired to the real process-table probe.
func New(fs *fsx.Adapter, logger *logging.Logger) *Engine {
	return &Engine{fs: fs, logger: logger, running: defaultRunning}
}

func exists(path string) (bool, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.Mode()&os.ModeSymlink != 0, nil
}

// defaultRunning is Engine's default running implementation, backed by a
// real process-table scan. An empty process name (unconfigured probe) is
// treated as never running.
func defaultRunning(procName string) bool {
	if procName == "" {
		return false
	}
	active, err := procprobe.Running(procName)
	if err != nil {
		return false
	}
	return active
}

// Sync promotes dir into the RAM-backed state: live path becomes a symlink
// into tmpfs, with the original content preserved at backup.
func (e *Engine) Sync(dir *model.Dir, triple pathresolver.Triple, cacheEnabled, overlayMode bool, procName string) error {
	if dir.Type == model.Cache && !cacheEnabled {
		return nil
	}

	lExists, lIsSymlink, err := exists(dir.Path)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	tExists, _, err := exists(triple.Tmpfs)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	bExists, _, err := exists(triple.Backup)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}

	if lExists && lIsSymlink && tExists && bExists {
		target, err := os.Readlink(dir.Path)
		if err == nil && target == triple.Tmpfs {
			return nil
		}
	}

	if bExists && !lExists {
		if err := e.fs.MoveTree(triple.Backup, dir.Path, true); err != nil {
			return errs.New(errs.KindTransientIO, fmt.Errorf("unable to promote orphaned backup to live: %w", err))
		}
		bExists = false
	}

	if !tExists && !overlayMode {
		if err := e.fs.CopyTree(dir.Path, triple.Tmpfs, false); err != nil {
			return errs.New(errs.KindTransientIO, fmt.Errorf("unable to seed tmpfs copy: %w", err))
		}
	}

	if err := e.swapLiveOnto(dir.Path, triple.Tmpfs, triple.Backup); err != nil {
		return err
	}

	if !overlayMode && e.running(procName) {
		if err := e.fs.CopyTree(triple.Backup, triple.Tmpfs, false); err != nil {
			e.logger.Warn(fmt.Errorf("unable to refresh tmpfs copy while browser is running: %w", err))
		}
	}

	return nil
}

// swapLiveOnto points dir.Path at tmpfsPath via the side-symlink +
// atomic-swap sequence, moving whatever previously occupied dir.Path to
// backupPath. There is never an instant at which dir.Path is missing.
func (e *Engine) swapLiveOnto(livePath, tmpfsPath, backupPath string) error {
	sibling := livePath + swapSuffix
	if err := os.Symlink(tmpfsPath, sibling); err != nil {
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to create throwaway symlink: %w", err))
	}

	if err := fsx.AtomicSwap(livePath, sibling); err != nil {
		if removeErr := os.Remove(sibling); removeErr != nil {
			e.logger.Warn(fmt.Errorf("unable to remove throwaway symlink after failed swap: %w", removeErr))
		}
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to exchange live path with throwaway symlink: %w", err))
	}

	if err := e.fs.MoveTree(sibling, backupPath, true); err != nil {
		if swapErr := fsx.AtomicSwap(livePath, sibling); swapErr != nil {
			e.logger.Warn(fmt.Errorf("unable to roll back displaced directory to live after backup-move failure: %w", swapErr))
		} else if removeErr := os.Remove(sibling); removeErr != nil {
			e.logger.Warn(fmt.Errorf("unable to remove throwaway symlink after rollback: %w", removeErr))
		}
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to move displaced directory to backup: %w", err))
	}

	return nil
}

// Unsync reverses Sync: the live path is restored to a plain directory
// (from backup), and the tmpfs copy is discarded.
func (e *Engine) Unsync(dir *model.Dir, triple pathresolver.Triple, cacheResyncEnabled, overlayMode bool, procName string) error {
	_, lIsSymlink, err := exists(dir.Path)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	if !lIsSymlink {
		return nil
	}

	tExists, _, err := exists(triple.Tmpfs)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	if tExists {
		if err := e.Resync(dir, triple, cacheResyncEnabled, overlayMode); err != nil {
			return err
		}
	}

	sibling := dir.Path + swapSuffix
	if err := e.fs.MoveTree(triple.Backup, sibling, false); err != nil {
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to stage backup beside live path: %w", err))
	}
	if err := fsx.AtomicSwap(dir.Path, sibling); err != nil {
		if moveErr := e.fs.MoveTree(sibling, triple.Backup, false); moveErr != nil {
			e.logger.Warn(fmt.Errorf("unable to return staged backup after failed swap: %w", moveErr))
		}
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to exchange live symlink with backup: %w", err))
	}
	if err := os.Remove(sibling); err != nil {
		e.logger.Warn(fmt.Errorf("unable to remove displaced symlink %q: %w", sibling, err))
	}

	if e.running(procName) {
		if tExists {
			if err := e.fs.CopyTree(triple.Tmpfs, dir.Path, false); err != nil {
				e.logger.Warn(fmt.Errorf("unable to copy last-moment writes from tmpfs onto live path: %w", err))
			}
		}
	}

	if !overlayMode {
		if err := e.fs.RemoveTree(triple.Tmpfs); err != nil {
			return errs.New(errs.KindTransientIO, fmt.Errorf("unable to remove tmpfs copy: %w", err))
		}
	}

	return nil
}

// Resync copies the current tmpfs content back to backup, absorbing
// whatever changes accumulated while synced.
func (e *Engine) Resync(dir *model.Dir, triple pathresolver.Triple, cacheResyncEnabled, overlayMode bool) error {
	if dir.Type == model.Cache && !cacheResyncEnabled {
		return nil
	}

	tExists, _, err := exists(triple.Tmpfs)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	if !tExists {
		return nil
	}

	if overlayMode {
		changed, err := upperHasEntry(triple.OverlayUpper)
		if err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
		if !changed {
			return nil
		}
	}

	if err := e.fs.CopyTree(triple.Tmpfs, triple.Backup, false); err != nil {
		return errs.New(errs.KindTransientIO, fmt.Errorf("unable to copy tmpfs content to backup: %w", err))
	}

	return nil
}

// ClearCache empties a cache directory's tmpfs, backup, and live copies, in
// that order. Reversing the order produces whiteout artifacts on overlayfs.
func (e *Engine) ClearCache(dir *model.Dir, triple pathresolver.Triple) error {
	if dir.Type != model.Cache {
		return fmt.Errorf("clear-cache requested for non-cache directory %q", dir.Path)
	}

	for _, path := range []string{triple.Tmpfs, triple.Backup, dir.Path} {
		isSymlink, err := isPlainDirectory(path)
		if err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
		if !isSymlink {
			continue
		}
		if err := e.fs.RemoveTree(path); err != nil {
			return errs.New(errs.KindTransientIO, fmt.Errorf("unable to clear %q: %w", path, err))
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return errs.New(errs.KindTransientIO, fmt.Errorf("unable to recreate %q: %w", path, err))
		}
	}

	return nil
}

// upperHasEntry reports whether the overlay upper layer directory for this
// managed directory holds any entries at all, i.e. whether anything has
// changed under the overlay mount since it was last merged down to backup.
// An absent or empty upper directory means no entry.
func upperHasEntry(upperPath string) (bool, error) {
	entries, err := os.ReadDir(upperPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// isPlainDirectory reports whether path exists and is a directory (not a
// symlink); clear-cache must never follow dir.Path if it's still a symlink
// into tmpfs mid-sync, since the symlink itself must not be disturbed.
func isPlainDirectory(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir() && info.Mode()&os.ModeSymlink == 0, nil
}
