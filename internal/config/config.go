// Package config loads bor.conf (an INI file) and runs each configured
// browser's descriptor script to build the full, immutable model.Config.
//
// No third-party INI library appears anywhere in the reference corpus (its
// configuration stacks are YAML/JSON/protobuf/TOML); this loader is
// therefore hand-written against the standard library, per the design
// ledger's documented stdlib exception.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/borfs/bor/internal/errs"
	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/pkg/environment"
	"github.com/borfs/bor/pkg/filesystem"
	"github.com/borfs/bor/pkg/logging"
	"github.com/borfs/bor/pkg/process"
)

// Loader reads bor.conf and produces a model.Config. The zero value is not
// usable; construct with New.
type Loader struct {
	roots  *layout.Roots
	logger *logging.Logger
}

// New constructs a Loader bound to the given Roots.
func New(roots *layout.Roots, logger *logging.Logger) *Loader {
	return &Loader{roots: roots, logger: logger}
}

// iniDocument is the parsed, two-section shape of bor.conf before any
// type conversion or script execution.
type iniDocument struct {
	config   map[string]string
	browsers map[string]string
}

// cutKeyValue splits a "key = value" line on the first '='.
func cutKeyValue(line string) (key, value string, ok bool) {
	index := strings.IndexByte(line, '=')
	if index < 0 {
		return "", "", false
	}
	return line[:index], line[index+1:], true
}

func parseINI(r io.Reader) (*iniDocument, error) {
	doc := &iniDocument{
		config:   make(map[string]string),
		browsers: make(map[string]string),
	}

	var section string
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}

		key, value, ok := cutKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNumber, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section {
		case "config":
			doc.config[key] = value
		case "browsers":
			doc.browsers[key] = value
		default:
			return nil, fmt.Errorf("line %d: key %q outside any recognized section", lineNumber, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to scan configuration: %w", err)
	}

	return doc, nil
}

func (doc *iniDocument) bool(key string, fallback bool) (bool, error) {
	raw, ok := doc.config[key]
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("key %q: invalid boolean %q", key, raw)
	}
	return parsed, nil
}

func (doc *iniDocument) int(key string, fallback int) (int, error) {
	raw, ok := doc.config[key]
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("key %q: invalid integer %q", key, raw)
	}
	return parsed, nil
}

// Load reads and validates bor.conf, running each configured browser's
// descriptor script to resolve its directories.
func (l *Loader) Load() (*model.Config, error) {
	path := l.roots.ConfigFilePath()
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.KindConfig, fmt.Errorf("unable to open configuration %q: %w", path, err))
	}
	defer file.Close()

	doc, err := parseINI(file)
	if err != nil {
		return nil, errs.New(errs.KindConfig, fmt.Errorf("unable to parse configuration %q: %w", path, err))
	}

	cfg := &model.Config{}

	if cfg.EnableOverlay, err = doc.bool("enable_overlay", false); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}
	if cfg.EnableCache, err = doc.bool("enable_cache", false); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}
	if cfg.ResyncCache, err = doc.bool("resync_cache", true); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}
	if cfg.ResetOverlay, err = doc.bool("reset_overlay", false); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}
	if cfg.MaxLogEntries, err = doc.int("max_log_entries", 10); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}

	for name, script := range doc.browsers {
		browser, err := runDescriptorScript(name, script)
		if err != nil {
			return nil, errs.New(errs.KindConfig, err)
		}
		cfg.Browsers = append(cfg.Browsers, browser)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}

	return cfg, nil
}

// runDescriptorScript executes a browser's descriptor script and parses its
// stdout into a Browser. Each line must be key=value with key in
// {procname, profile, cache}; any other key is a configuration error. At
// most one procname line is permitted.
func runDescriptorScript(name, script string) (*model.Browser, error) {
	cmd := exec.Command(script)
	cmd.Env = descriptorEnvironment(name)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			switch {
			case process.IsPOSIXShellCommandNotFound(exitErr.ProcessState):
				return nil, fmt.Errorf("browser %q: descriptor script %q was not found or is not on PATH", name, script)
			case process.IsPOSIXShellInvalidCommand(exitErr.ProcessState):
				return nil, fmt.Errorf("browser %q: descriptor script %q is not executable", name, script)
			}
		}
		if message := process.ExtractExitErrorMessage(err); message != "" {
			if process.OutputIsPOSIXCommandNotFound(message) {
				return nil, fmt.Errorf("browser %q: descriptor script %q invokes a command that isn't installed: %s", name, script, message)
			}
			return nil, fmt.Errorf("browser %q: descriptor script %q failed: %s", name, script, message)
		}
		return nil, fmt.Errorf("browser %q: descriptor script %q failed: %w", name, script, err)
	}

	browser := &model.Browser{Name: name}
	sawProcName := false

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := cutKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("browser %q: descriptor script line %q is not key=value", name, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "procname":
			if sawProcName {
				return nil, fmt.Errorf("browser %q: descriptor script gave more than one procname line", name)
			}
			sawProcName = true
			browser.ProcessName = value
		case "profile":
			dir, err := model.NewDir(value, model.Profile)
			if err != nil {
				return nil, fmt.Errorf("browser %q: profile entry %q: %w", name, value, err)
			}
			browser.Dirs = append(browser.Dirs, dir)
		case "cache":
			dir, err := model.NewDir(value, model.Cache)
			if err != nil {
				return nil, fmt.Errorf("browser %q: cache entry %q: %w", name, value, err)
			}
			browser.Dirs = append(browser.Dirs, dir)
		default:
			return nil, fmt.Errorf("browser %q: unrecognized descriptor key %q", name, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("browser %q: unable to scan descriptor output: %w", name, err)
	}

	return browser, nil
}

// descriptorEnvironment builds the environment a descriptor script runs
// under: the process environment (already carrying the resolved XDG
// variables via Roots.SyncEnvironment) plus BOR_BROWSER_NAME, so a script
// shared between browsers can tell which one it's being asked to describe.
func descriptorEnvironment(name string) []string {
	vars := environment.ToMap(os.Environ())
	vars["BOR_BROWSER_NAME"] = name
	return environment.FromMap(vars)
}

// Snapshot copies the current configuration file to its ephemeral, session-
// scoped location. Load always reads bor.conf; nothing in bor reads the
// snapshot back.
func (l *Loader) Snapshot() error {
	source, err := os.ReadFile(l.roots.ConfigFilePath())
	if err != nil {
		return errs.New(errs.KindConfig, fmt.Errorf("unable to read configuration for snapshot: %w", err))
	}
	if err := filesystem.WriteFileAtomic(l.roots.ConfigSnapshotPath(), source, 0600, l.logger); err != nil {
		return errs.New(errs.KindConfig, fmt.Errorf("unable to write configuration snapshot: %w", err))
	}
	return nil
}

// RemoveSnapshot deletes the ephemeral configuration snapshot. The
// orchestrator's unsync teardown removes the same file itself with os.Remove
// rather than through this method.
func (l *Loader) RemoveSnapshot() error {
	if err := os.Remove(l.roots.ConfigSnapshotPath()); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.KindConfig, fmt.Errorf("unable to remove configuration snapshot: %w", err))
	}
	return nil
}
