// Package overlay implements OverlayController: optional overlayfs-backed
// copy-on-write indirection, activated only when configuration requests it
// and the process holds the required capabilities.
package overlay

import (
	"fmt"
	"os"

	"github.com/moby/sys/capability"
	"github.com/moby/sys/mount"
	"golang.org/x/sys/unix"

	"github.com/borfs/bor/internal/errs"
	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/pkg/filesystem"
	"github.com/borfs/bor/pkg/logging"
)

// requiredCaps are the two capabilities overlay mode needs in the
// permitted set: CAP_SYS_ADMIN for mount/umount2, CAP_DAC_OVERRIDE for
// removing kernel-owned work-directory entries.
var requiredCaps = []capability.Cap{capability.CAP_SYS_ADMIN, capability.CAP_DAC_OVERRIDE}

// Controller drives the overlay mount lifecycle. The zero value is not
// usable; construct with New.
type Controller struct {
	roots  *layout.Roots
	logger *logging.Logger
}

// New constructs a Controller bound to the given Roots.
func New(roots *layout.Roots, logger *logging.Logger) *Controller {
	return &Controller{roots: roots, logger: logger}
}

// CapabilitiesAvailable reports whether the process holds both required
// capabilities in its permitted set, without raising anything into effect.
func CapabilitiesAvailable() (bool, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, fmt.Errorf("unable to inspect process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return false, fmt.Errorf("unable to load process capabilities: %w", err)
	}
	for _, c := range requiredCaps {
		if !caps.Get(capability.PERMITTED, c) {
			return false, nil
		}
	}
	return true, nil
}

// withElevatedCaps raises the required capabilities into the effective set
// for the duration of fn, then lowers them again unconditionally, even if
// fn fails. This is the only place effective capabilities are ever
// nonempty.
func withElevatedCaps(fn func() error) error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("unable to inspect process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("unable to load process capabilities: %w", err)
	}

	caps.Set(capability.EFFECTIVE, requiredCaps...)
	if err := caps.Apply(capability.EFFECTIVE); err != nil {
		return fmt.Errorf("unable to raise capabilities into effective set: %w", err)
	}

	fnErr := fn()

	caps.Unset(capability.EFFECTIVE, requiredCaps...)
	if lowerErr := caps.Apply(capability.EFFECTIVE); lowerErr != nil {
		if fnErr == nil {
			return fmt.Errorf("unable to lower capabilities out of effective set: %w", lowerErr)
		}
	}

	return fnErr
}

// mountOptions builds the overlay mount option string for the configured
// roots.
func (c *Controller) mountOptions() string {
	return fmt.Sprintf("index=off,lowerdir=%s,upperdir=%s,workdir=%s,nosuid,nodev,noatime", c.roots.Backups, c.roots.OverlayUpper, c.roots.OverlayWork)
}

// Mount creates the overlay upper and work directories and mounts overlayfs
// at the tmpfs root, with lowerdir set to the backups root. It refuses to
// proceed if the overlay upper root, work root, or backups root is itself a
// symlink.
func (c *Controller) Mount() error {
	for _, path := range []string{c.roots.OverlayUpper, c.roots.OverlayWork, c.roots.Backups} {
		info, err := os.Lstat(path)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errs.Newf(errs.KindFatalSystem, "refusing to mount overlay: %q is a symlink", path)
		}
	}

	if err := c.roots.CreateOverlayRoots(); err != nil {
		return errs.New(errs.KindFatalSystem, err)
	}

	options := c.mountOptions()
	mountErr := withElevatedCaps(func() error {
		return mount.Mount("overlay", c.roots.Tmpfs, "overlay", options)
	})
	if mountErr != nil {
		return errs.New(errs.KindFatalSystem, fmt.Errorf("unable to mount overlay at %q: %w", c.roots.Tmpfs, mountErr))
	}

	return nil
}

// Unmount lazily detaches the overlay mount (MNT_DETACH, no symlink
// following), verifies the target is no longer a distinct filesystem, then
// removes the upper directory as the current user and the work directory
// with elevated capabilities (its entries are kernel-owned).
func (c *Controller) Unmount() error {
	if err := unix.Unmount(c.roots.Tmpfs, unix.MNT_DETACH|unix.UMOUNT_NOFOLLOW); err != nil {
		return errs.New(errs.KindFatalSystem, fmt.Errorf("unable to unmount overlay at %q: %w", c.roots.Tmpfs, err))
	}

	mounted, err := c.Mounted()
	if err != nil {
		return errs.New(errs.KindFatalSystem, err)
	}
	if mounted {
		return errs.Newf(errs.KindFatalSystem, "overlay at %q still appears mounted after unmount", c.roots.Tmpfs)
	}

	if err := os.RemoveAll(c.roots.OverlayUpper); err != nil {
		c.logger.Warn(fmt.Errorf("unable to remove overlay upper directory: %w", err))
	}

	removeWorkErr := withElevatedCaps(func() error {
		return os.RemoveAll(c.roots.OverlayWork)
	})
	if removeWorkErr != nil {
		c.logger.Warn(fmt.Errorf("unable to remove overlay work directory: %w", removeWorkErr))
	}

	return nil
}

// Mounted reports whether the tmpfs root is currently a distinct mounted
// filesystem, by comparing its device id against its parent's.
func (c *Controller) Mounted() (bool, error) {
	parentDevice, err := filesystem.DeviceID(c.roots.Runtime)
	if err != nil {
		return false, fmt.Errorf("unable to query runtime root device: %w", err)
	}

	if _, err := os.Lstat(c.roots.Tmpfs); os.IsNotExist(err) {
		return false, nil
	}

	tmpfsDevice, err := filesystem.DeviceID(c.roots.Tmpfs)
	if err != nil {
		return false, fmt.Errorf("unable to query tmpfs root device: %w", err)
	}

	return tmpfsDevice != parentDevice, nil
}

// Reset calls liveSymlinkToBackup to re-point the managed live symlinks to
// the backup location, unmounts, re-mounts, then calls liveSymlinkToTmpfs to
// re-point them back to tmpfs. The
// side-symlink + atomic-swap technique matches DirectoryEngine.Sync so
// browsers observe no window in which the live path is missing.
func (c *Controller) Reset(liveSymlinkToBackup func() error, liveSymlinkToTmpfs func() error) error {
	if err := liveSymlinkToBackup(); err != nil {
		return fmt.Errorf("unable to re-point live symlinks to backup: %w", err)
	}

	if err := c.Unmount(); err != nil {
		return err
	}

	if err := c.Mount(); err != nil {
		return err
	}

	if err := liveSymlinkToTmpfs(); err != nil {
		return fmt.Errorf("unable to re-point live symlinks to tmpfs: %w", err)
	}

	return nil
}
