// Package model defines the data model shared by every bor component: the
// managed directories, the browsers that group them, and the immutable
// configuration they're constructed from.
package model

import (
	"fmt"
	"os"
	"path/filepath"
)

// Kind distinguishes a profile directory from a cache directory. Cache
// directories are subject to the enable_cache/resync_cache config gates and
// are the only directories clear-cache operates on.
type Kind uint8

const (
	// Profile is a browser profile directory (bookmarks, cookies, settings).
	Profile Kind = iota
	// Cache is a browser cache directory.
	Cache
)

func (k Kind) String() string {
	if k == Cache {
		return "cache"
	}
	return "profile"
}

// Dir is the unit of work: one managed directory. It is immutable after
// construction. It deliberately does not hold a pointer back to its owning
// Browser — the only thing the engine needs from the browser is its process
// name, which callers pass explicitly instead, avoiding the reference cycle.
type Dir struct {
	// Path is the absolute live location visible to the browser.
	Path string
	// ParentPath is Path's directory.
	ParentPath string
	// Name is Path's base name.
	Name string
	// Type is Profile or Cache.
	Type Kind
}

// NewDir validates and constructs a Dir from a user-facing path. The parent
// directory must exist and be a directory; the path itself need not exist
// yet (it may be freshly unsynced-to-synced, or it may already be live
// data).
func NewDir(path string, kind Kind) (*Dir, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to compute absolute path for %q: %w", path, err)
	}
	absolute = filepath.Clean(absolute)

	parent := filepath.Dir(absolute)
	info, err := os.Stat(parent)
	if err != nil {
		return nil, fmt.Errorf("parent directory %q: %w", parent, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("parent path %q is not a directory", parent)
	}

	return &Dir{
		Path:       absolute,
		ParentPath: parent,
		Name:       filepath.Base(absolute),
		Type:       kind,
	}, nil
}

// Browser is a named group of Dirs plus the process name used for the
// "is the browser running?" probe.
type Browser struct {
	// Name identifies the browser in logs and status output.
	Name string
	// ProcessName is matched against running process names by procprobe.
	ProcessName string
	// Dirs are the managed directories belonging to this browser.
	Dirs []*Dir
}

// Bounds on configuration size. Implementers may lift these; they exist to
// keep a single misconfigured descriptor script from producing unbounded
// work.
const (
	// MaxBrowsers is the maximum number of browsers a Config may contain.
	MaxBrowsers = 100
	// MaxDirsPerBrowser is the maximum number of Dirs a single Browser may
	// contain.
	MaxDirsPerBrowser = 100
)

// Config is the immutable, fully-resolved configuration for one invocation:
// global options plus every browser and its directories. It is constructed
// once by internal/config and handed by reference to the orchestrator.
type Config struct {
	// EnableOverlay switches the session to overlay-CoW mode.
	EnableOverlay bool
	// EnableCache includes cache directories in sync/unsync.
	EnableCache bool
	// ResyncCache includes cache directories in resync passes.
	ResyncCache bool
	// ResetOverlay calls OverlayController.Reset after a successful resync.
	ResetOverlay bool
	// MaxLogEntries bounds the on-disk rotating log mirror; 0 disables it.
	MaxLogEntries int

	// Browsers is the full, bounded set of configured browsers.
	Browsers []*Browser
}

// Validate enforces the size bounds documented above.
func (c *Config) Validate() error {
	if len(c.Browsers) > MaxBrowsers {
		return fmt.Errorf("configuration lists %d browsers, exceeding the maximum of %d", len(c.Browsers), MaxBrowsers)
	}
	for _, browser := range c.Browsers {
		if len(browser.Dirs) > MaxDirsPerBrowser {
			return fmt.Errorf("browser %q lists %d directories, exceeding the maximum of %d", browser.Name, len(browser.Dirs), MaxDirsPerBrowser)
		}
	}
	return nil
}
