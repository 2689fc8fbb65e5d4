// Package layout computes and creates bor's process-wide Roots: the small
// set of base directories every other component derives its paths from.
// Roots are resolved once at startup and are read-only thereafter.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/borfs/bor/pkg/filesystem"
)

const (
	// rootMode is the permission mode used when creating any root directory
	// on demand.
	rootMode = 0755

	// runtimeSubdirectory is bor's subdirectory name within XDG_RUNTIME_DIR.
	runtimeSubdirectory = "bor"

	// tmpfsSubdirectory is the tmpfs root's name within the runtime root.
	tmpfsSubdirectory = "tmpfs"
	// overlayUpperSubdirectory is the overlay upper layer's name within the
	// runtime root.
	overlayUpperSubdirectory = "upper"
	// overlayWorkSubdirectory is the overlay work directory's name within
	// the runtime root.
	overlayWorkSubdirectory = "work"
	// backupsSubdirectory is the backups root's name within the config root.
	backupsSubdirectory = "backups"
	// shareSubdirectory is the share root's name within XDG_DATA_HOME.
	shareSubdirectory = "bor"
	// configSubdirectory is bor's subdirectory name within XDG_CONFIG_HOME.
	configSubdirectory = "bor"
)

// Roots holds the base directories that every other bor component derives
// its working paths from. All fields are absolute paths. Roots are created
// on demand (mode 0755) but never modified after Resolve returns.
type Roots struct {
	// Runtime is XDG_RUNTIME_DIR/bor.
	Runtime string
	// Tmpfs is Runtime/tmpfs, the RAM-backed copy target (or overlay
	// mountpoint, in overlay mode).
	Tmpfs string
	// OverlayUpper is the overlay's writable upper layer.
	OverlayUpper string
	// OverlayWork is the overlay's kernel-owned work directory.
	OverlayWork string
	// Config is XDG_CONFIG_HOME/bor.
	Config string
	// Backups is Config/backups, the durable on-disk copy root.
	Backups string
	// Share is XDG_DATA_HOME/bor, reserved for any future persisted,
	// non-config, non-backup state.
	Share string
	// CacheBase is XDG_CACHE_HOME itself (after fallback substitution), not a
	// bor-specific subdirectory. SyncEnvironment exports it as
	// XDG_CACHE_HOME for descriptor scripts; Dir paths are not resolved
	// against it.
	CacheBase string
}

// Resolve computes the Roots from the current process environment, applying
// the fallbacks documented in the external interfaces (XDG_RUNTIME_DIR,
// XDG_CONFIG_HOME, XDG_DATA_HOME, HOME). It does not create any directories.
func Resolve() (*Roots, error) {
	home, err := homeDirectory()
	if err != nil {
		return nil, fmt.Errorf("unable to determine home directory: %w", err)
	}

	runtimeBase := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeBase == "" {
		runtimeBase = filepath.Join("/run/user", strconv.Itoa(os.Getuid()))
	}

	configBase := os.Getenv("XDG_CONFIG_HOME")
	if configBase == "" {
		configBase = filepath.Join(home, ".config")
	}

	shareBase := os.Getenv("XDG_DATA_HOME")
	if shareBase == "" {
		shareBase = filepath.Join(home, ".local", "share")
	}

	cacheBase := os.Getenv("XDG_CACHE_HOME")
	if cacheBase == "" {
		cacheBase = filepath.Join(home, ".cache")
	}

	runtime := filepath.Join(runtimeBase, runtimeSubdirectory)
	config := filepath.Join(configBase, configSubdirectory)

	return &Roots{
		Runtime:      runtime,
		Tmpfs:        filepath.Join(runtime, tmpfsSubdirectory),
		OverlayUpper: filepath.Join(runtime, overlayUpperSubdirectory),
		OverlayWork:  filepath.Join(runtime, overlayWorkSubdirectory),
		Config:       config,
		Backups:      filepath.Join(config, backupsSubdirectory),
		Share:        filepath.Join(shareBase, shareSubdirectory),
		CacheBase:    cacheBase,
	}, nil
}

// homeDirectory returns $HOME directly rather than going through os/user, in
// keeping with the rest of the codebase's preference for avoiding cgo-backed
// user lookups for a value that's already available from the environment.
func homeDirectory() (string, error) {
	home, ok := os.LookupEnv("HOME")
	if !ok || home == "" {
		return "", fmt.Errorf("HOME environment variable not set")
	}
	return home, nil
}

// Create creates every root directory that doesn't already exist, with mode
// 0755. It's idempotent and safe to call on every invocation.
func (r *Roots) Create() error {
	for _, path := range []string{
		r.Runtime, r.Tmpfs, r.Config, r.Backups, r.Share,
	} {
		if err := os.MkdirAll(path, rootMode); err != nil {
			return fmt.Errorf("unable to create root %s: %w", path, err)
		}
	}
	return nil
}

// CreateOverlayRoots creates the overlay-specific roots (upper, work). These
// are only needed when overlay mode is active, so they're created lazily by
// OverlayController.Mount rather than unconditionally by Create.
func (r *Roots) CreateOverlayRoots() error {
	for _, path := range []string{r.OverlayUpper, r.OverlayWork} {
		if err := os.MkdirAll(path, rootMode); err != nil {
			return fmt.Errorf("unable to create overlay root %s: %w", path, err)
		}
	}
	return nil
}

// ConfigFilePath returns the path to the user-editable INI configuration
// file.
func (r *Roots) ConfigFilePath() string {
	return filepath.Join(r.Config, "bor.conf")
}

// ConfigSnapshotPath returns the path to the immutable configuration
// snapshot taken at the start of a sync session.
func (r *Roots) ConfigSnapshotPath() string {
	return filepath.Join(r.Config, ".bor.conf")
}

// ManifestPath returns the path to the session manifest listing every live
// path currently under management.
func (r *Roots) ManifestPath() string {
	return filepath.Join(r.Backups, "targets.txt")
}

// LogPath returns the path to the on-disk log mirror.
func (r *Roots) LogPath() string {
	return filepath.Join(r.Config, "log.txt")
}

// SyncEnvironment re-exports the XDG variables this process resolved (after
// fallback substitution) into its own environment, so that child processes
// (rsync, browser descriptor scripts) observe consistent values regardless
// of whether the parent shell had them set.
func (r *Roots) SyncEnvironment() {
	must := func(key, value string) {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	must("XDG_RUNTIME_DIR", filepath.Dir(r.Runtime))
	must("XDG_CONFIG_HOME", filepath.Dir(r.Config))
	must("XDG_DATA_HOME", filepath.Dir(r.Share))
	must("XDG_CACHE_HOME", r.CacheBase)
}

// Normalize is re-exported for convenience so callers constructing Dir
// values from user input don't need to import pkg/filesystem directly.
var Normalize = filesystem.Normalize
