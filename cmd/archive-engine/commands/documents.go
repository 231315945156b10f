package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

var (
	searchLimit int
	seriesLimit int

	showOutput string
	showText   bool
)

var searchCmd = &cobra.Command{
	Use:   "search PATTERN",
	Short: "Search stored documents by full text",
	Long: `Search the recognized text of stored documents. The pattern is matched as a
substring; use * and ? as wildcards.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var showCmd = &cobra.Command{
	Use:   "show UUID",
	Short: "Show a stored document",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "List the most recently ingested series",
	RunE:  runSeries,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)

	showCmd.Flags().StringVarP(&showOutput, "out", "o", "", "Write the document PDF to this path")
	showCmd.Flags().BoolVar(&showText, "text", false, "Print the full recognized text")
	rootCmd.AddCommand(showCmd)

	seriesCmd.Flags().IntVarP(&seriesLimit, "limit", "n", 10, "Maximum number of series")
	rootCmd.AddCommand(seriesCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Documents.SearchFullText(ctx, args[0], searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(docs) == 0 {
		ui.Info("No documents match %q", args[0])
		return nil
	}

	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			d.UUID.String(),
			ui.Truncate(d.SeriesName, 20),
			ui.Truncate(d.Title, 48),
			fmt.Sprintf("%d-%d", d.StartPage, d.EndPage),
		})
	}
	ui.Table([]string{"UUID", "SERIES", "TITLE", "PAGES"}, rows)
	ui.Newline()
	ui.Info("%d documents", len(docs))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", args[0], err)
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Documents.GetByUUID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	ui.Section(doc.Title)
	ui.Table([]string{"FIELD", "VALUE"}, [][]string{
		{"uuid", doc.UUID.String()},
		{"series", doc.SeriesName},
		{"user", doc.UserName},
		{"file", doc.FileName},
		{"pages", fmt.Sprintf("%d-%d", doc.StartPage, doc.EndPage)},
		{"pdf pages", fmt.Sprintf("%d-%d", doc.PDFStartPage, doc.PDFEndPage)},
		{"date", doc.Date},
		{"inserted", doc.InsertDate.Format(time.RFC3339)},
	})

	if showText {
		ui.Newline()
		fmt.Println(doc.FullText)
	}

	if showOutput == "" {
		return nil
	}
	blob, _, err := a.Documents.GetFile(ctx, id)
	if err != nil {
		return fmt.Errorf("load document file: %w", err)
	}
	out, err := absPath(showOutput)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(out, blob, 0o644); err != nil {
		return fmt.Errorf("write document file: %w", err)
	}
	ui.Newline()
	ui.Success("Wrote %s (%d bytes)", out, len(blob))
	return nil
}

func runSeries(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	total, err := a.Documents.Count(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	series, err := a.Documents.LatestSeries(ctx, seriesLimit)
	if err != nil {
		return fmt.Errorf("list series: %w", err)
	}

	rows := make([][]string, 0, len(series))
	for _, s := range series {
		rows = append(rows, seriesRow(s))
	}
	ui.Table([]string{"SERIES", "USER", "DOCUMENTS", "LAST INSERT"}, rows)
	ui.Newline()
	ui.Info("%d documents stored", total)
	return nil
}

func seriesRow(s *storage.SeriesSummary) []string {
	return []string{
		s.SeriesName,
		s.UserName,
		fmt.Sprint(s.Documents),
		s.LastInsert.Format(time.RFC3339),
	}
}
