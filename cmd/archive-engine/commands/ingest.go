package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
)

var (
	ingestPDFPath     string
	ingestUser        string
	ingestSeries      string
	ingestContentPage int
	ingestLanguage    string
	ingestDate        string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Segment a volume by its catalogue and store every document",
	Long: `Split a scanned volume into one document per catalogue entry using the
saved catalogue artifact, recognize the text of every document and store it.
--content-page is the PDF page that carries printed page number 1.

Interrupting the command cancels the task before its next range.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestPDFPath, "pdf", "p", "", "Path to the scanned PDF (required)")
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "User name recorded on every document")
	ingestCmd.Flags().StringVarP(&ingestSeries, "series", "s", "", "Series name (required)")
	ingestCmd.Flags().IntVar(&ingestContentPage, "content-page", 0, "PDF page of printed page 1 (required)")
	ingestCmd.Flags().StringVarP(&ingestLanguage, "lang", "l", "中文", "Document language tag")
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "Document date recorded on every document")
	ingestCmd.MarkFlagRequired("pdf")
	ingestCmd.MarkFlagRequired("series")
	ingestCmd.MarkFlagRequired("content-page")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, err := absPath(ingestPDFPath)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.Section("Ingestion")
	ui.Info("PDF file: %s", path)
	ui.Info("Series: %s", ingestSeries)
	ui.Info("Content starts on PDF page %d", ingestContentPage)
	ui.Newline()

	started := time.Now()
	id, err := a.Service.StartIngestion(ctx, ingest.IngestionRequest{
		SourcePath:   path,
		UserName:     ingestUser,
		SeriesName:   ingestSeries,
		ContentPage:  ingestContentPage,
		Language:     ingestLanguage,
		DocumentDate: ingestDate,
	})
	if err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	ui.Debug("Task %s", id)

	// The watch outlives ctx so the canceled snapshot is still delivered.
	updates, err := a.Service.Watch(context.WithoutCancel(ctx), id)
	if err != nil {
		return fmt.Errorf("watch task: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := a.Service.Cancel(id); err == nil {
			ui.Warning("Interrupted, stopping after the current range")
		}
	}()

	var bar *ui.RangeBar
	final, err := waitForTask(context.Background(), id.String(), updates, func(p ingest.Progress) {
		if bar == nil {
			bar = ui.NewRangeBar(p.Total, "Segmenting")
		}
		bar.Update(p.Current, p.CurrentRangeDescription)
	})
	if bar != nil {
		bar.Close()
	}
	if err != nil {
		return err
	}

	ui.Newline()
	printSummary(final, time.Since(started))
	ui.Newline()

	switch final.Status {
	case ingest.StatusCompleted:
		ui.Success("Stored %d documents from %s", final.Persisted, path)
	case ingest.StatusCanceled:
		ui.Warning("Ingestion canceled after %d of %d ranges", final.Current, final.Total)
	default:
		return fmt.Errorf("ingestion %s: %s", final.Status, final.Error)
	}
	return nil
}
