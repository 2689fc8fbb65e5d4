package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/pkg/logging"
)

func writeExecutableScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestLoadParsesConfigAndBrowsers(t *testing.T) {
	dir := t.TempDir()
	roots := &layout.Roots{Config: dir, Backups: filepath.Join(dir, "backups")}

	profileDir := filepath.Join(dir, "profile")
	cacheDir := filepath.Join(dir, "cache")
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		t.Fatal(err)
	}

	script := filepath.Join(dir, "chrome.sh")
	writeExecutableScript(t, script, strings.Join([]string{
		"echo procname=chrome",
		"echo profile=" + profileDir,
		"echo cache=" + cacheDir,
	}, "\n"))

	confBody := "[config]\n" +
		"enable_overlay = true\n" +
		"enable_cache = true\n" +
		"max_log_entries = 25\n" +
		"\n" +
		"[browsers]\n" +
		"chrome = " + script + "\n"
	if err := os.WriteFile(roots.ConfigFilePath(), []byte(confBody), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := New(roots, logging.RootLogger).Load()
	if err != nil {
		t.Fatal("unable to load configuration:", err)
	}

	if !cfg.EnableOverlay || !cfg.EnableCache {
		t.Error("expected enable_overlay and enable_cache to be true")
	}
	if !cfg.ResyncCache {
		t.Error("expected resync_cache to default to true")
	}
	if cfg.MaxLogEntries != 25 {
		t.Errorf("expected max_log_entries 25, got %d", cfg.MaxLogEntries)
	}
	if len(cfg.Browsers) != 1 {
		t.Fatalf("expected 1 browser, got %d", len(cfg.Browsers))
	}
	browser := cfg.Browsers[0]
	if browser.Name != "chrome" || browser.ProcessName != "chrome" {
		t.Errorf("unexpected browser: %+v", browser)
	}
	if len(browser.Dirs) != 2 {
		t.Fatalf("expected 2 directories, got %d", len(browser.Dirs))
	}
}

func TestLoadRejectsMalformedBoolean(t *testing.T) {
	dir := t.TempDir()
	roots := &layout.Roots{Config: dir}
	body := "[config]\nenable_overlay = not-a-bool\n"
	if err := os.WriteFile(roots.ConfigFilePath(), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(roots, logging.RootLogger).Load(); err == nil {
		t.Error("expected an error for a malformed boolean value")
	}
}

func TestSnapshotAndRemoveSnapshot(t *testing.T) {
	dir := t.TempDir()
	roots := &layout.Roots{Config: dir}
	body := "[config]\nenable_overlay = false\n"
	if err := os.WriteFile(roots.ConfigFilePath(), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	loader := New(roots, logging.RootLogger)
	if err := loader.Snapshot(); err != nil {
		t.Fatal("unable to snapshot:", err)
	}
	snapshot, err := os.ReadFile(roots.ConfigSnapshotPath())
	if err != nil {
		t.Fatal("expected snapshot file to exist:", err)
	}
	if string(snapshot) != body {
		t.Error("expected snapshot content to match source configuration")
	}

	if err := loader.RemoveSnapshot(); err != nil {
		t.Fatal("unable to remove snapshot:", err)
	}
	if _, err := os.Stat(roots.ConfigSnapshotPath()); !os.IsNotExist(err) {
		t.Error("expected snapshot to be removed")
	}
}
