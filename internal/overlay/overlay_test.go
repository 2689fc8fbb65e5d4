package overlay

import (
	"path/filepath"
	"testing"

	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/pkg/logging"
)

func TestMountOptionsFormat(t *testing.T) {
	roots := &layout.Roots{
		Backups:      "/config/backups",
		OverlayUpper: "/runtime/upper",
		OverlayWork:  "/runtime/work",
	}
	c := New(roots, logging.RootLogger)

	expected := "index=off,lowerdir=/config/backups,upperdir=/runtime/upper,workdir=/runtime/work,nosuid,nodev,noatime"
	if got := c.mountOptions(); got != expected {
		t.Errorf("unexpected mount options: got %q, want %q", got, expected)
	}
}

func TestMountedFalseWhenTmpfsAbsent(t *testing.T) {
	root := t.TempDir()
	roots := &layout.Roots{
		Runtime: root,
		Tmpfs:   filepath.Join(root, "tmpfs-not-created"),
	}
	c := New(roots, logging.RootLogger)

	mounted, err := c.Mounted()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if mounted {
		t.Error("expected Mounted to report false when tmpfs root doesn't exist")
	}
}
