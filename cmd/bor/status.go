package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/borfs/bor/internal/model"
	"github.com/borfs/bor/internal/orchestrator"
)

var (
	syncedLabel   = color.New(color.FgGreen).SprintFunc()
	unsyncedLabel = color.New(color.FgYellow).SprintFunc()
)

// printStatus prints one line per configured directory describing whether
// it's currently relocated onto tmpfs and how large its active copy is.
func printStatus(orch *orchestrator.Orchestrator, cfg *model.Config) error {
	entries, err := orch.Status(cfg)
	if err != nil {
		return fmt.Errorf("unable to determine status: %w", err)
	}

	for _, entry := range entries {
		state := unsyncedLabel("unsynced")
		if entry.Synced {
			state = syncedLabel("synced")
		}
		fmt.Printf("%-20s %-8s %-10s %s\n",
			entry.Browser,
			entry.Dir.Type,
			humanize.Bytes(uint64(entry.SizeBytes)),
			state,
		)
	}

	return nil
}
