package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/borfs/bor/internal/engine"
	"github.com/borfs/bor/internal/fsx"
	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/overlay"
	"github.com/borfs/bor/internal/pathresolver"
	"github.com/borfs/bor/internal/recovery"
	"github.com/borfs/bor/internal/repair"
	"github.com/borfs/bor/pkg/logging"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *layout.Roots) {
	t.Helper()
	root := t.TempDir()
	roots := &layout.Roots{
		Runtime:      filepath.Join(root, "runtime"),
		Tmpfs:        filepath.Join(root, "runtime", "tmpfs"),
		OverlayUpper: filepath.Join(root, "runtime", "upper"),
		OverlayWork:  filepath.Join(root, "runtime", "work"),
		Config:       filepath.Join(root, "config"),
		Backups:      filepath.Join(root, "config", "backups"),
		Share:        filepath.Join(root, "share"),
	}

	fsAdapter, err := fsx.New(logging.RootLogger)
	if err != nil {
		t.Skip("rsync not available on PATH:", err)
	}

	resolver := pathresolver.New(roots)
	recoveryWriter := recovery.New(fsAdapter)
	repairer := repair.New(fsAdapter, recoveryWriter)
	eng := engine.New(fsAdapter, logging.RootLogger)
	overlayCtl := overlay.New(roots, logging.RootLogger)

	return New(roots, resolver, recoveryWriter, repairer, eng, overlayCtl, logging.RootLogger), roots
}

func singleBrowserConfig(t *testing.T, parent string) *model.Config {
	t.Helper()
	dir, err := model.NewDir(filepath.Join(parent, "Profile"), model.Profile)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir.Path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.Path, "cookies.sqlite"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	return &model.Config{
		EnableCache: true,
		ResyncCache: true,
		Browsers: []*model.Browser{
			{Name: "testbrowser", ProcessName: "", Dirs: []*model.Dir{dir}},
		},
	}
}

func TestSyncWritesManifestAndSymlinksLive(t *testing.T) {
	o, roots := newTestOrchestrator(t)
	if err := roots.Create(); err != nil {
		t.Fatal(err)
	}
	parent := t.TempDir()
	cfg := singleBrowserConfig(t, parent)

	report, err := o.Sync(cfg)
	if err != nil {
		t.Fatal("sync failed:", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	info, err := os.Lstat(cfg.Browsers[0].Dirs[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("expected live path to become a symlink after sync")
	}

	manifest, err := os.ReadFile(roots.ManifestPath())
	if err != nil {
		t.Fatal("expected session manifest to exist:", err)
	}
	if len(manifest) == 0 {
		t.Error("expected session manifest to be non-empty")
	}
}

func TestSyncThenUnsyncRemovesManifest(t *testing.T) {
	o, roots := newTestOrchestrator(t)
	if err := roots.Create(); err != nil {
		t.Fatal(err)
	}
	parent := t.TempDir()
	cfg := singleBrowserConfig(t, parent)

	if _, err := o.Sync(cfg); err != nil {
		t.Fatal("sync failed:", err)
	}
	if _, err := o.Unsync(cfg); err != nil {
		t.Fatal("unsync failed:", err)
	}

	info, err := os.Lstat(cfg.Browsers[0].Dirs[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("expected live path to be a plain directory after unsync")
	}
	if _, err := os.Stat(roots.ManifestPath()); !os.IsNotExist(err) {
		t.Error("expected session manifest to be removed after unsync")
	}
}

func TestStatusReportsSyncedState(t *testing.T) {
	o, roots := newTestOrchestrator(t)
	if err := roots.Create(); err != nil {
		t.Fatal(err)
	}
	parent := t.TempDir()
	cfg := singleBrowserConfig(t, parent)

	entriesBefore, err := o.Status(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(entriesBefore) != 1 || entriesBefore[0].Synced {
		t.Errorf("expected one unsynced entry before sync, got %+v", entriesBefore)
	}

	if _, err := o.Sync(cfg); err != nil {
		t.Fatal(err)
	}

	entriesAfter, err := o.Status(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(entriesAfter) != 1 || !entriesAfter[0].Synced {
		t.Errorf("expected one synced entry after sync, got %+v", entriesAfter)
	}
}

func TestStatusWarnsAboutStaleManifestEntries(t *testing.T) {
	o, roots := newTestOrchestrator(t)
	if err := roots.Create(); err != nil {
		t.Fatal(err)
	}
	parent := t.TempDir()
	cfg := singleBrowserConfig(t, parent)

	stalePath := filepath.Join(parent, "NoLongerConfigured")
	if err := os.WriteFile(roots.ManifestPath(), []byte(stalePath+"\n"), 0600); err != nil {
		t.Fatal("unable to seed manifest:", err)
	}

	mirrorPath := filepath.Join(t.TempDir(), "log.txt")
	if err := logging.EnableMirror(mirrorPath, 5); err != nil {
		t.Fatal("unable to enable log mirror:", err)
	}
	defer logging.EnableMirror(mirrorPath, 0)

	if _, err := o.Status(cfg); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(mirrorPath)
	if err != nil {
		t.Fatal("unable to read log mirror:", err)
	}
	if !strings.Contains(string(data), stalePath) {
		t.Errorf("expected status to warn about stale manifest entry %q, got log: %s", stalePath, data)
	}
}
