// Package orchestrator implements SessionOrchestrator: the top-level driver
// for a single user action (sync, unsync, resync, clean, clear-cache,
// status) across the full configured set of browsers and directories.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/borfs/bor/internal/engine"
	"github.com/borfs/bor/internal/errs"
	"github.com/borfs/bor/internal/fsx"
	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/overlay"
	"github.com/borfs/bor/internal/pathresolver"
	"github.com/borfs/bor/internal/recovery"
	"github.com/borfs/bor/internal/repair"
	"github.com/borfs/bor/pkg/logging"
)

// Orchestrator drives sync/unsync/resync/clean/clear-cache/status across a
// model.Config. The orchestrator never parallelizes directories: sequential
// ordering is part of the contract, not an implementation detail.
type Orchestrator struct {
	roots    *layout.Roots
	resolver *pathresolver.Resolver
	recovery *recovery.Writer
	repairer *repair.Repairer
	engine   *engine.Engine
	overlay  *overlay.Controller
	logger   *logging.Logger
}

// New constructs an Orchestrator from its component dependencies.
func New(
	roots *layout.Roots,
	resolver *pathresolver.Resolver,
	recoveryWriter *recovery.Writer,
	repairer *repair.Repairer,
	eng *engine.Engine,
	overlayController *overlay.Controller,
	logger *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		roots:    roots,
		resolver: resolver,
		recovery: recoveryWriter,
		repairer: repairer,
		engine:   eng,
		overlay:  overlayController,
		logger:   logger,
	}
}

// Report summarizes a completed session action: how many directories
// succeeded, were skipped for safety, or failed outright. The action never
// aborts early on a single directory's failure.
type Report struct {
	// CorrelationID identifies this invocation in logs.
	CorrelationID string
	Succeeded     int
	Skipped       int
	Failed        int
}

func newReport() *Report {
	return &Report{CorrelationID: uuid.NewString()}
}

type dirTriple struct {
	dir    *model.Dir
	triple pathresolver.Triple
}

// eachDir walks every directory in cfg, resolving its triple and passing
// both to fn. fn's error is logged and counted against the report but never
// aborts the walk.
func (o *Orchestrator) eachDir(cfg *model.Config, report *Report, fn func(*model.Dir, pathresolver.Triple, *model.Browser) error) []dirTriple {
	var touched []dirTriple
	for _, browser := range cfg.Browsers {
		for _, dir := range browser.Dirs {
			triple, err := o.resolver.Resolve(dir)
			if err != nil {
				o.logger.Error(fmt.Errorf("%s: unable to resolve paths: %w", dir.Path, err))
				report.Failed++
				continue
			}

			safe, err := fsx.Safe(dir.Path)
			if err != nil {
				o.logger.Error(fmt.Errorf("%s: unable to evaluate safety: %w", dir.Path, err))
				report.Failed++
				continue
			}
			if !safe {
				o.logger.Warn(fmt.Errorf("%s: failed owner-safety check, skipping", dir.Path))
				report.Skipped++
				continue
			}

			if err := fn(dir, triple, browser); err != nil {
				if errs.Is(err, errs.KindSafetyViolation) {
					o.logger.Warn(err)
					report.Skipped++
				} else {
					o.logger.Error(err)
					report.Failed++
				}
				continue
			}

			touched = append(touched, dirTriple{dir: dir, triple: triple})
			report.Succeeded++
		}
	}
	return touched
}

// Sync creates the roots, optionally enables overlay mode, repairs and
// syncs every configured directory, mounts the overlay if warranted, and
// appends each successfully-synced live path to the session manifest.
func (o *Orchestrator) Sync(cfg *model.Config) (*Report, error) {
	if err := o.roots.Create(); err != nil {
		return nil, errs.New(errs.KindFatalSystem, err)
	}

	overlayMode, err := o.negotiateOverlayMode(cfg)
	if err != nil {
		return nil, err
	}

	report := newReport()
	touched := o.eachDir(cfg, report, func(dir *model.Dir, triple pathresolver.Triple, browser *model.Browser) error {
		if err := o.repairer.Repair(dir, triple, overlayMode); err != nil {
			return err
		}
		return o.engine.Sync(dir, triple, cfg.EnableCache, overlayMode, browser.ProcessName)
	})

	if overlayMode && report.Succeeded > 0 {
		mounted, err := o.overlay.Mounted()
		if err != nil {
			return report, errs.New(errs.KindFatalSystem, err)
		}
		if !mounted {
			if err := o.overlay.Mount(); err != nil {
				return report, err
			}
		}
	}

	for _, dt := range touched {
		if err := o.appendManifest(dt.dir.Path); err != nil {
			o.logger.Warn(err)
		}
	}

	return report, nil
}

// negotiateOverlayMode decides whether this session runs in overlay mode:
// it's requested by config, the process holds both required capabilities,
// and overlay isn't already mounted from a prior session. A capability
// shortfall disables overlay mode with a warning rather than failing the
// session; an already-mounted overlay is a fatal refusal to proceed.
func (o *Orchestrator) negotiateOverlayMode(cfg *model.Config) (bool, error) {
	if !cfg.EnableOverlay {
		return false, nil
	}

	available, err := overlay.CapabilitiesAvailable()
	if err != nil {
		return false, errs.New(errs.KindFatalSystem, err)
	}
	if !available {
		o.logger.Warn(fmt.Errorf("overlay mode requested but required capabilities are not permitted; continuing with plain tmpfs copies"))
		return false, nil
	}

	mounted, err := o.overlay.Mounted()
	if err != nil {
		return false, errs.New(errs.KindFatalSystem, err)
	}
	if mounted {
		return false, errs.Newf(errs.KindFatalSystem, "overlay is already mounted from a prior session")
	}

	return true, nil
}

// Unsync repairs and unsyncs every configured directory, unmounts the
// overlay if mounted, logs any unmanaged leftovers under the backups or
// tmpfs roots, and removes the ephemeral config snapshot and session
// manifest.
func (o *Orchestrator) Unsync(cfg *model.Config) (*Report, error) {
	overlayMode, err := o.overlay.Mounted()
	if err != nil {
		return nil, errs.New(errs.KindFatalSystem, err)
	}

	report := newReport()
	o.eachDir(cfg, report, func(dir *model.Dir, triple pathresolver.Triple, browser *model.Browser) error {
		if err := o.repairer.Repair(dir, triple, overlayMode); err != nil {
			return err
		}
		return o.engine.Unsync(dir, triple, cfg.ResyncCache, overlayMode, browser.ProcessName)
	})

	if overlayMode {
		if err := o.overlay.Unmount(); err != nil {
			return report, err
		}
	}

	o.warnStaleManifestEntries(cfg)
	o.logResidualEntries()

	if err := os.Remove(o.roots.ConfigSnapshotPath()); err != nil && !os.IsNotExist(err) {
		o.logger.Warn(fmt.Errorf("unable to remove configuration snapshot: %w", err))
	}
	if err := os.Remove(o.roots.ManifestPath()); err != nil && !os.IsNotExist(err) {
		o.logger.Warn(fmt.Errorf("unable to remove session manifest: %w", err))
	}

	return report, nil
}

// Resync repairs and resyncs every configured directory, then optionally
// resets the overlay if configured to do so and at least one directory's
// resync succeeded under overlay mode (a directory skipped because nothing
// changed counts as a success).
func (o *Orchestrator) Resync(cfg *model.Config) (*Report, error) {
	overlayMode, err := o.overlay.Mounted()
	if err != nil {
		return nil, errs.New(errs.KindFatalSystem, err)
	}

	report := newReport()
	touched := o.eachDir(cfg, report, func(dir *model.Dir, triple pathresolver.Triple, browser *model.Browser) error {
		if err := o.repairer.Repair(dir, triple, overlayMode); err != nil {
			return err
		}
		return o.engine.Resync(dir, triple, cfg.ResyncCache, overlayMode)
	})

	if cfg.ResetOverlay && overlayMode && report.Succeeded > 0 {
		if err := o.overlay.Reset(
			func() error { return o.repoint(touched, func(t pathresolver.Triple) string { return t.Backup }) },
			func() error { return o.repoint(touched, func(t pathresolver.Triple) string { return t.Tmpfs }) },
		); err != nil {
			return report, err
		}
	}

	return report, nil
}

// repoint re-points every touched directory's live symlink at targetOf's
// path, using the same side-symlink + atomic-swap technique as
// DirectoryEngine.Sync so there's never a window with a missing live path.
func (o *Orchestrator) repoint(touched []dirTriple, targetOf func(pathresolver.Triple) string) error {
	for _, dt := range touched {
		sibling := dt.dir.Path + ".bor-reset"
		if err := os.Symlink(targetOf(dt.triple), sibling); err != nil {
			return fmt.Errorf("unable to create throwaway symlink for %q: %w", dt.dir.Path, err)
		}
		if err := fsx.AtomicSwap(dt.dir.Path, sibling); err != nil {
			if removeErr := os.Remove(sibling); removeErr != nil {
				o.logger.Warn(fmt.Errorf("unable to remove throwaway symlink for %q: %w", dt.dir.Path, removeErr))
			}
			return fmt.Errorf("unable to re-point live symlink for %q: %w", dt.dir.Path, err)
		}
		if err := os.Remove(sibling); err != nil {
			o.logger.Warn(fmt.Errorf("unable to remove displaced symlink for %q: %w", dt.dir.Path, err))
		}
	}
	return nil
}

// ClearCache empties the tmpfs, backup, and live copies of every configured
// cache directory.
func (o *Orchestrator) ClearCache(cfg *model.Config) (*Report, error) {
	report := newReport()
	o.eachDir(cfg, report, func(dir *model.Dir, triple pathresolver.Triple, browser *model.Browser) error {
		if dir.Type != model.Cache {
			return nil
		}
		return o.engine.ClearCache(dir, triple)
	})
	return report, nil
}

// Clean removes every crash-recovery directory found inside each configured
// directory's parent path.
func (o *Orchestrator) Clean(cfg *model.Config) error {
	seen := make(map[string]bool)
	for _, browser := range cfg.Browsers {
		for _, dir := range browser.Dirs {
			if seen[dir.ParentPath] {
				continue
			}
			seen[dir.ParentPath] = true
			if err := o.recovery.Clean(dir.ParentPath); err != nil {
				return errs.New(errs.KindTransientIO, err)
			}
		}
	}
	return nil
}

// StatusEntry describes the current on-disk state of one managed
// directory.
type StatusEntry struct {
	Browser string
	Dir     *model.Dir
	Synced  bool
	SizeBytes int64
}

// Status reports, for every configured directory, whether it's currently
// synced (live path is a symlink into tmpfs) and the byte size of its
// tmpfs copy when synced, or its live directory otherwise.
func (o *Orchestrator) Status(cfg *model.Config) ([]StatusEntry, error) {
	var entries []StatusEntry
	for _, browser := range cfg.Browsers {
		for _, dir := range browser.Dirs {
			triple, err := o.resolver.Resolve(dir)
			if err != nil {
				return nil, errs.New(errs.KindTransientIO, err)
			}

			info, err := os.Lstat(dir.Path)
			synced := err == nil && info.Mode()&os.ModeSymlink != 0

			measurePath := dir.Path
			if synced {
				measurePath = triple.Tmpfs
			}
			size, _ := directorySize(measurePath)

			entries = append(entries, StatusEntry{
				Browser:   browser.Name,
				Dir:       dir,
				Synced:    synced,
				SizeBytes: size,
			})
		}
	}

	o.warnStaleManifestEntries(cfg)

	return entries, nil
}

func directorySize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// appendManifest appends livePath to the session manifest, creating it on
// first use.
func (o *Orchestrator) appendManifest(livePath string) error {
	file, err := os.OpenFile(o.roots.ManifestPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to open session manifest: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, livePath); err != nil {
		return fmt.Errorf("unable to append to session manifest: %w", err)
	}
	return nil
}

// readManifest returns the live paths recorded in the session manifest, or
// nil if no manifest exists yet.
func (o *Orchestrator) readManifest() ([]string, error) {
	data, err := os.ReadFile(o.roots.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to read session manifest: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// configuredLivePaths returns the set of live paths cfg currently declares.
func configuredLivePaths(cfg *model.Config) map[string]bool {
	set := make(map[string]bool)
	for _, browser := range cfg.Browsers {
		for _, dir := range browser.Dirs {
			set[dir.Path] = true
		}
	}
	return set
}

// warnStaleManifestEntries consults the session manifest and warns about
// every live path it tracks that's no longer present in cfg's configured
// directories: a directory removed from bor.conf since the last sync, whose
// tmpfs/backup copies and manifest entry are otherwise never revisited.
func (o *Orchestrator) warnStaleManifestEntries(cfg *model.Config) {
	manifest, err := o.readManifest()
	if err != nil {
		o.logger.Warn(err)
		return
	}

	configured := configuredLivePaths(cfg)
	for _, path := range manifest {
		if !configured[path] {
			o.logger.Warn(fmt.Errorf("session manifest tracks %q, which is no longer present in the current configuration", path))
		}
	}
}

// logResidualEntries warns about any entries left under the backups or
// tmpfs roots after an unsync pass, which indicate unmanaged leftovers
// (directories no longer present in the current configuration).
func (o *Orchestrator) logResidualEntries() {
	for _, root := range []string{o.roots.Backups, o.roots.Tmpfs} {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Name() == "targets.txt" {
				continue
			}
			o.logger.Warn(fmt.Errorf("unmanaged leftover under %q: %q", root, entry.Name()))
		}
	}
}
