package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/borfs/bor/cmd"
	"github.com/borfs/bor/internal/config"
	"github.com/borfs/bor/internal/engine"
	"github.com/borfs/bor/internal/fsx"
	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/orchestrator"
	"github.com/borfs/bor/internal/overlay"
	"github.com/borfs/bor/internal/pathresolver"
	"github.com/borfs/bor/internal/recovery"
	"github.com/borfs/bor/internal/repair"
	"github.com/borfs/bor/pkg/bor"
	"github.com/borfs/bor/pkg/logging"
)

// rootConfiguration holds the mutually-exclusive action flags plus the
// always-available modifiers (verbose, version, help).
var rootConfiguration struct {
	sync       bool
	unsync     bool
	resync     bool
	clean      bool
	clearCache bool
	status     bool
	verbose    bool
	version    bool
	help       bool
}

// relocationFlagCount counts how many of the mutually-exclusive relocation
// action flags (sync/unsync/resync/rm_cache) were set. status and clean
// take precedence over this group rather than competing with it; see
// resolveAction.
func relocationFlagCount() int {
	count := 0
	for _, set := range []bool{
		rootConfiguration.sync,
		rootConfiguration.unsync,
		rootConfiguration.resync,
		rootConfiguration.clearCache,
	} {
		if set {
			count++
		}
	}
	return count
}

// resolveAction applies the precedence rule for the action flag group:
// status, then clean, then at most one of sync/unsync/resync/rm_cache.
// It returns the flag name to run, or "" if no action flag was set.
func resolveAction() (string, error) {
	switch {
	case rootConfiguration.status:
		return "status", nil
	case rootConfiguration.clean:
		return "clean", nil
	case relocationFlagCount() > 1:
		return "", fmt.Errorf("at most one of --sync, --unsync, --resync, --rm_cache may be specified")
	case rootConfiguration.sync:
		return "sync", nil
	case rootConfiguration.unsync:
		return "unsync", nil
	case rootConfiguration.resync:
		return "resync", nil
	case rootConfiguration.clearCache:
		return "rm_cache", nil
	default:
		return "", nil
	}
}

func rootMain(command *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(bor.Version)
		return nil
	}

	if rootConfiguration.help {
		return command.Help()
	}

	if rootConfiguration.verbose {
		bor.DebugEnabled = true
	}

	action, err := resolveAction()
	if err != nil {
		return err
	}
	if action == "" {
		return command.Help()
	}

	logger := logging.RootLogger.Sublogger("bor")

	roots, err := layout.Resolve()
	if err != nil {
		return fmt.Errorf("unable to resolve directory layout: %w", err)
	}
	if err := roots.Create(); err != nil {
		return fmt.Errorf("unable to create directory layout: %w", err)
	}
	roots.SyncEnvironment()

	loader := config.New(roots, logger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}

	if err := logging.EnableMirror(roots.LogPath(), cfg.MaxLogEntries); err != nil {
		logger.Warnf("unable to enable log mirror: %s", err.Error())
	}

	fsAdapter, err := fsx.New(logger)
	if err != nil {
		return fmt.Errorf("unable to initialize filesystem adapter: %w", err)
	}

	resolver := pathresolver.New(roots)
	recoveryWriter := recovery.New(fsAdapter)
	repairer := repair.New(fsAdapter, recoveryWriter)
	directoryEngine := engine.New(fsAdapter, logger)
	overlayController := overlay.New(roots, logger)

	orch := orchestrator.New(roots, resolver, recoveryWriter, repairer, directoryEngine, overlayController, logger)

	return dispatch(action, orch, loader, cfg, logger)
}

// dispatch runs the action resolveAction selected against the constructed
// orchestrator.
func dispatch(action string, orch *orchestrator.Orchestrator, loader *config.Loader, cfg *model.Config, logger *logging.Logger) error {
	switch action {
	case "status":
		return printStatus(orch, cfg)
	case "clean":
		return orch.Clean(cfg)
	case "rm_cache":
		return runAction(logger, "clear-cache", func() (*orchestrator.Report, error) {
			return orch.ClearCache(cfg)
		})
	case "sync":
		if err := loader.Snapshot(); err != nil {
			return err
		}
		return runAction(logger, "sync", func() (*orchestrator.Report, error) {
			return orch.Sync(cfg)
		})
	case "unsync":
		return runAction(logger, "unsync", func() (*orchestrator.Report, error) {
			return orch.Unsync(cfg)
		})
	case "resync":
		return runAction(logger, "resync", func() (*orchestrator.Report, error) {
			return orch.Resync(cfg)
		})
	}
	return nil
}

// runAction runs a report-producing orchestrator action and prints a short
// summary line.
func runAction(logger *logging.Logger, name string, action func() (*orchestrator.Report, error)) error {
	report, err := action()
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	logger.Printf("%s complete (session %s): %d succeeded, %d skipped, %d failed",
		name, report.CorrelationID, report.Succeeded, report.Skipped, report.Failed)
	return nil
}

var rootCommand = &cobra.Command{
	Use:   "bor",
	Short: "bor relocates browser profile and cache directories onto RAM-backed storage.",
	RunE:  rootMain,
	Args:  cmd.DisallowArguments,
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&rootConfiguration.sync, "sync", "s", false, "Relocate configured directories onto tmpfs")
	flags.BoolVarP(&rootConfiguration.unsync, "unsync", "u", false, "Restore configured directories to disk")
	flags.BoolVarP(&rootConfiguration.resync, "resync", "r", false, "Copy tmpfs changes back to the on-disk backup")
	flags.BoolVarP(&rootConfiguration.clean, "clean", "c", false, "Remove crash-recovery directories")
	flags.BoolVarP(&rootConfiguration.clearCache, "rm_cache", "x", false, "Clear configured cache directories")
	flags.BoolVarP(&rootConfiguration.status, "status", "p", false, "Print status and exit")
	flags.BoolVarP(&rootConfiguration.verbose, "verbose", "V", false, "Enable debug logging")
	flags.BoolVarP(&rootConfiguration.version, "version", "v", false, "Show version information")
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
