package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
)

// Manifest lists the volumes of one batch run.
//
//	concurrency: 2
//	defaults:
//	  user: archivist
//	  language: 中文
//	tasks:
//	  - pdf: volumes/0001.pdf
//	    series: 全宗 1
//	    content_page: 7
type Manifest struct {
	Concurrency int            `yaml:"concurrency"`
	Defaults    ManifestTask   `yaml:"defaults"`
	Tasks       []ManifestTask `yaml:"tasks"`
}

// ManifestTask is one volume. Empty fields fall back to the defaults.
type ManifestTask struct {
	PDF         string `yaml:"pdf"`
	User        string `yaml:"user"`
	Series      string `yaml:"series"`
	ContentPage int    `yaml:"content_page"`
	Language    string `yaml:"language"`
	Date        string `yaml:"date"`
}

var batchCmd = &cobra.Command{
	Use:   "batch MANIFEST",
	Short: "Ingest every volume listed in a YAML manifest",
	Long: `Ingest several volumes in one run. Each volume must already have a saved
catalogue. Relative PDF paths are resolved against the manifest's directory.
A volume that cannot be started is reported and the rest continue.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

// loadManifest reads and validates a manifest, applying defaults and
// resolving PDF paths.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Tasks) == 0 {
		return nil, fmt.Errorf("manifest %s lists no tasks", path)
	}
	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	baseDir := filepath.Dir(path)
	for i := range m.Tasks {
		t := &m.Tasks[i]
		if t.User == "" {
			t.User = m.Defaults.User
		}
		if t.Series == "" {
			t.Series = m.Defaults.Series
		}
		if t.ContentPage == 0 {
			t.ContentPage = m.Defaults.ContentPage
		}
		if t.Language == "" {
			t.Language = m.Defaults.Language
		}
		if t.Date == "" {
			t.Date = m.Defaults.Date
		}

		if strings.TrimSpace(t.PDF) == "" {
			return nil, fmt.Errorf("task %d: pdf is required", i+1)
		}
		if !filepath.IsAbs(t.PDF) {
			t.PDF = filepath.Join(baseDir, t.PDF)
		}
		abs, err := filepath.Abs(t.PDF)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		t.PDF = abs
	}
	return &m, nil
}

// Request converts a task into an ingestion request.
func (t ManifestTask) Request() ingest.IngestionRequest {
	return ingest.IngestionRequest{
		SourcePath:   t.PDF,
		UserName:     t.User,
		SeriesName:   t.Series,
		ContentPage:  t.ContentPage,
		Language:     t.Language,
		DocumentDate: t.Date,
	}
}

type batchResult struct {
	task     ManifestTask
	progress ingest.Progress
	err      error
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := loadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.Section("Batch Ingestion")
	ui.Info("Manifest: %s (%d volumes, %d at a time)", args[0], len(m.Tasks), m.Concurrency)
	ui.Newline()

	started := time.Now()
	board := ui.NewBoard()
	results := make([]batchResult, len(m.Tasks))

	var (
		mu      sync.Mutex
		running = make(map[int]func() error)
	)
	go func() {
		<-ctx.Done()
		mu.Lock()
		defer mu.Unlock()
		for _, cancel := range running {
			_ = cancel()
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(m.Concurrency)
	for i, task := range m.Tasks {
		results[i].task = task
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].err = ctx.Err()
				return nil
			}

			id, err := a.Service.StartIngestion(ctx, task.Request())
			if err != nil {
				results[i].err = err
				return nil
			}
			updates, err := a.Service.Watch(context.WithoutCancel(ctx), id)
			if err != nil {
				results[i].err = err
				return nil
			}

			mu.Lock()
			running[i] = func() error { return a.Service.Cancel(id) }
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(running, i)
				mu.Unlock()
			}()

			var bar *ui.VolumeBar
			final, err := waitForTask(context.Background(), id.String(), updates, func(p ingest.Progress) {
				if bar == nil {
					bar = board.Add(ui.Truncate(filepath.Base(task.PDF), 24), p.Total)
				}
				bar.Update(p.Current)
			})
			if bar != nil {
				bar.Finish(err == nil && final.Status == ingest.StatusCompleted)
			}
			results[i].progress, results[i].err = final, err
			return nil
		})
	}
	_ = g.Wait()
	board.Wait()

	ui.Newline()
	rows := make([][]string, 0, len(results))
	var failed int
	for _, r := range results {
		status := string(r.progress.Status)
		detail := r.progress.Error
		if r.err != nil {
			detail = r.err.Error()
			if status == "" {
				status = "not started"
			}
		}
		if r.err != nil || r.progress.Status != ingest.StatusCompleted {
			failed++
		}
		rows = append(rows, []string{
			ui.Truncate(filepath.Base(r.task.PDF), 32),
			r.task.Series,
			status,
			fmt.Sprint(r.progress.Persisted),
			fmt.Sprint(r.progress.Skipped),
			fmt.Sprint(r.progress.FailedInserts),
			ui.Truncate(detail, 48),
		})
	}
	ui.Table([]string{"PDF", "SERIES", "STATUS", "PERSISTED", "SKIPPED", "FAILED INSERTS", "DETAIL"}, rows)
	ui.Newline()

	if failed > 0 {
		return fmt.Errorf("%d of %d volumes did not complete", failed, len(results))
	}
	ui.Success("All %d volumes ingested in %s", len(results), ui.FormatDuration(time.Since(started)))
	return nil
}
