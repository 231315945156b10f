package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
)

// buildApp wires the engine from the loaded configuration.
func buildApp(ctx context.Context) (*app.App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize archive engine: %w", err)
	}
	return a, nil
}

// absPath resolves a command line path against the working directory.
func absPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}

// printCatalogue shows a catalogue as a label/title table.
func printCatalogue(cat *catalogue.Catalogue) {
	rows := make([][]string, 0, cat.Len())
	for _, e := range cat.Entries {
		rows = append(rows, []string{
			catalogue.FormatLabel(cfg.Storage.CatalogueMarker, e.PageLabel),
			ui.Truncate(e.Title, 72),
		})
	}
	ui.Table([]string{"LABEL", "TITLE"}, rows)
}

// printSummary shows the final counters of an ingestion task.
func printSummary(p ingest.Progress, elapsed time.Duration) {
	ui.Table(
		[]string{"STATUS", "RANGES", "PERSISTED", "SKIPPED", "FAILED INSERTS", "ELAPSED"},
		[][]string{{
			string(p.Status),
			fmt.Sprintf("%d/%d", p.Current, p.Total),
			fmt.Sprint(p.Persisted),
			fmt.Sprint(p.Skipped),
			fmt.Sprint(p.FailedInserts),
			ui.FormatDuration(elapsed),
		}},
	)
}

// waitForTask follows a task until its completed snapshot arrives. The
// callback sees every snapshot.
func waitForTask(ctx context.Context, id string, updates <-chan ingest.Progress, onUpdate func(ingest.Progress)) (ingest.Progress, error) {
	var last ingest.Progress
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case p, ok := <-updates:
			if !ok {
				if last.Completed {
					return last, nil
				}
				return last, fmt.Errorf("task %s stopped reporting progress", id)
			}
			last = p
			if onUpdate != nil {
				onUpdate(p)
			}
			if p.Completed {
				return p, nil
			}
		}
	}
}
