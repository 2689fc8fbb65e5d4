package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnableMirrorWritesSessionHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	if err := EnableMirror(path, 5); err != nil {
		t.Fatal("unable to enable mirror:", err)
	}
	defer EnableMirror(path, 0)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read mirror file:", err)
	}
	if !strings.Contains(string(data), "<") {
		t.Error("expected a session header in mirror file")
	}
}

func TestEnableMirrorZeroRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	if err := EnableMirror(path, 3); err != nil {
		t.Fatal("unable to enable mirror:", err)
	}
	if err := EnableMirror(path, 0); err != nil {
		t.Fatal("unable to disable mirror:", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected mirror file to be removed when max entries is 0")
	}
}

func TestEnableMirrorRotatesOldSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	for i := 0; i < 4; i++ {
		if err := EnableMirror(path, 2); err != nil {
			t.Fatal("unable to enable mirror:", err)
		}
	}
	defer EnableMirror(path, 0)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read mirror file:", err)
	}

	if got := strings.Count(string(data), "<"); got > 2 {
		t.Errorf("expected at most 2 session headers after rotation, got %d", got)
	}
}

func TestLoggerWritesToMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	if err := EnableMirror(path, 5); err != nil {
		t.Fatal("unable to enable mirror:", err)
	}
	defer EnableMirror(path, 0)

	logger := RootLogger.Sublogger("test")
	logger.Print("hello from mirror test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("unable to read mirror file:", err)
	}
	if !strings.Contains(string(data), "hello from mirror test") {
		t.Error("expected logged line to appear in mirror file")
	}
}
