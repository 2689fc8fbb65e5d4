package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/borfs/bor/internal/fsx"
)

func fixedTime() time.Time {
	return time.Date(2026, time.March, 4, 13, 5, 9, 0, time.UTC)
}

func TestRelocateMovesStrayIntoCrashDir(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, "stray")
	if err := os.Mkdir(stray, 0755); err != nil {
		t.Fatal("unable to create stray directory:", err)
	}

	w := &Writer{Adapter: &fsx.Adapter{}, now: fixedTime}
	if err := w.Relocate(dir, "profile", stray); err != nil {
		t.Fatal("unable to relocate:", err)
	}

	expected := filepath.Join(dir, "bor-crash_profile_04-03-26_13:05:09")
	if _, err := os.Lstat(expected); err != nil {
		t.Error("expected crash directory to exist:", err)
	}
	if _, err := os.Lstat(stray); !os.IsNotExist(err) {
		t.Error("expected stray path to be gone")
	}
}

func TestRelocateAppendsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "bor-crash_profile_04-03-26_13:05:09")
	if err := os.Mkdir(existing, 0755); err != nil {
		t.Fatal("unable to create pre-existing crash dir:", err)
	}
	stray := filepath.Join(dir, "stray")
	if err := os.Mkdir(stray, 0755); err != nil {
		t.Fatal("unable to create stray directory:", err)
	}

	w := &Writer{Adapter: &fsx.Adapter{}, now: fixedTime}
	if err := w.Relocate(dir, "profile", stray); err != nil {
		t.Fatal("unable to relocate:", err)
	}

	expected := existing + "-1"
	if _, err := os.Lstat(expected); err != nil {
		t.Error("expected suffixed crash directory to exist:", err)
	}
}

func TestCleanRemovesAllCrashDirs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"bor-crash_profile_04-03-26_13:05:09",
		"bor-crash_cache_04-03-26_13:06:10-1",
	} {
		if err := os.Mkdir(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal("unable to create crash dir:", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "kept"), 0755); err != nil {
		t.Fatal("unable to create unrelated directory:", err)
	}

	w := &Writer{Adapter: &fsx.Adapter{}}
	if err := w.Clean(dir); err != nil {
		t.Fatal("unable to clean:", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal("unable to read directory:", err)
	}
	if len(entries) != 1 || entries[0].Name() != "kept" {
		t.Errorf("expected only 'kept' to remain, got %v", entries)
	}
}
