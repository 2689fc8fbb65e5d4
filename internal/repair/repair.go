// Package repair implements StateRepairer: classification and minimal,
// idempotent repair of the (live, backup, tmpfs) tuple for one managed
// directory, run before every engine action.
package repair

import (
	"fmt"
	"os"

	"github.com/borfs/bor/internal/errs"
	"github.com/borfs/bor/internal/fsx"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/pathresolver"
	"github.com/borfs/bor/internal/recovery"
)

// kind classifies what, if anything, occupies a single path in the tuple.
type kind uint8

const (
	kindAbsent kind = iota
	kindDirectory
	kindSymlink
	kindOther
)

func classify(path string) (kind, string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kindAbsent, "", nil
		}
		return kindOther, "", fmt.Errorf("unable to stat %q: %w", path, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return kindOther, "", fmt.Errorf("unable to read symlink %q: %w", path, err)
		}
		return kindSymlink, target, nil
	}

	if info.IsDir() {
		return kindDirectory, "", nil
	}

	return kindOther, "", nil
}

// Repairer drives the repair sequence. The zero value is not usable;
// construct with New.
type Repairer struct {
	fs       *fsx.Adapter
	recovery *recovery.Writer
}

// New constructs a Repairer.
func New(fs *fsx.Adapter, recoveryWriter *recovery.Writer) *Repairer {
	return &Repairer{fs: fs, recovery: recoveryWriter}
}

// maxSymlinkRestoreAttempts bounds the "unlink and recreate" loop in rule 3
// to guard against a pathological environment where something keeps
// recreating a stale symlink out from under the repairer.
const maxSymlinkRestoreAttempts = 2

// Repair brings dir's (L, B, T) tuple into one of the two canonical
// safe-to-proceed forms: (dir, absent, absent) or (symlink->T, dir, dir).
// overlayMode suppresses the T-from-B fill in rule 2, since in overlay mode
// T is a mountpoint rather than a plain copy.
func (r *Repairer) Repair(dir *model.Dir, triple pathresolver.Triple, overlayMode bool) error {
	if err := r.applyRuleOne(dir, triple); err != nil {
		return err
	}
	if err := r.applyRuleTwo(triple, overlayMode); err != nil {
		return err
	}
	return r.applyRuleThree(dir, triple)
}

// applyRuleOne: if L is a directory (not a symlink), it holds live,
// authoritative data. Any B or T that exists is a stray from a prior
// incomplete session and is relocated to a crash directory.
func (r *Repairer) applyRuleOne(dir *model.Dir, triple pathresolver.Triple) error {
	lKind, _, err := classify(dir.Path)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	if lKind != kindDirectory {
		return nil
	}

	for _, stray := range []string{triple.Backup, triple.Tmpfs} {
		strayKind, _, err := classify(stray)
		if err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
		if strayKind == kindAbsent {
			continue
		}
		if err := r.recovery.Relocate(dir.ParentPath, dir.Name, stray); err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
	}

	return nil
}

// applyRuleTwo reconciles B and T: if exactly one is a directory, the other
// is filled by copying from it (T from B, skipped in overlay mode). If
// either exists but is not a directory, the tuple is corrupted.
func (r *Repairer) applyRuleTwo(triple pathresolver.Triple, overlayMode bool) error {
	bKind, _, err := classify(triple.Backup)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	tKind, _, err := classify(triple.Tmpfs)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}

	if bKind == kindOther || bKind == kindSymlink {
		return errs.Newf(errs.KindCorruptedState, "backup path %q exists but is not a directory", triple.Backup)
	}
	if tKind == kindOther || tKind == kindSymlink {
		return errs.Newf(errs.KindCorruptedState, "tmpfs path %q exists but is not a directory", triple.Tmpfs)
	}

	switch {
	case bKind == kindDirectory && tKind == kindAbsent:
		if overlayMode {
			return nil
		}
		if err := r.fs.CopyTree(triple.Backup, triple.Tmpfs, false); err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
	case tKind == kindDirectory && bKind == kindAbsent:
		if err := r.fs.CopyTree(triple.Tmpfs, triple.Backup, false); err != nil {
			return errs.New(errs.KindTransientIO, err)
		}
	}

	return nil
}

// applyRuleThree restores the live symlink once T is known-good: if T is a
// directory and L is absent, L is created pointing at T. If L is a symlink
// pointing somewhere other than T, it's unlinked and recreated (once). Any
// other shape of L is corrupted state.
func (r *Repairer) applyRuleThree(dir *model.Dir, triple pathresolver.Triple) error {
	tKind, _, err := classify(triple.Tmpfs)
	if err != nil {
		return errs.New(errs.KindTransientIO, err)
	}
	if tKind != kindDirectory {
		return nil
	}

	for attempt := 0; attempt < maxSymlinkRestoreAttempts; attempt++ {
		lKind, lTarget, err := classify(dir.Path)
		if err != nil {
			return errs.New(errs.KindTransientIO, err)
		}

		switch lKind {
		case kindAbsent:
			if err := os.Symlink(triple.Tmpfs, dir.Path); err != nil {
				return errs.New(errs.KindTransientIO, fmt.Errorf("unable to create live symlink %q: %w", dir.Path, err))
			}
			return nil
		case kindSymlink:
			if lTarget == triple.Tmpfs {
				return nil
			}
			if err := os.Remove(dir.Path); err != nil {
				return errs.New(errs.KindTransientIO, fmt.Errorf("unable to remove stale symlink %q: %w", dir.Path, err))
			}
			continue
		default:
			return errs.Newf(errs.KindCorruptedState, "live path %q is neither a directory, a symlink, nor absent", dir.Path)
		}
	}

	return errs.Newf(errs.KindCorruptedState, "live path %q could not be stabilized as a symlink to %q", dir.Path, triple.Tmpfs)
}
