package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/archive-engine/cmd/archive-engine/ui"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/catalogue"
)

var (
	extractPDFPath  string
	extractStart    int
	extractEnd      int
	extractLanguage string
	extractSave     bool

	savePDFPath     string
	saveMappingPath string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the catalogue of a scanned volume",
	Long: `Recognize the catalogue pages of a scanned volume and ask the language model
to turn them into a page label to title mapping. The result is printed for
review and, with --save, written next to the PDF as the catalogue artifact.`,
	RunE: runExtract,
}

var saveCatalogueCmd = &cobra.Command{
	Use:   "save-catalogue",
	Short: "Save a reviewed catalogue mapping for a volume",
	Long: `Read a JSON mapping of page labels to titles (as produced by extract and
edited by hand) and store it as the catalogue artifact of the volume.`,
	RunE: runSaveCatalogue,
}

func init() {
	extractCmd.Flags().StringVarP(&extractPDFPath, "pdf", "p", "", "Path to the scanned PDF (required)")
	extractCmd.Flags().IntVar(&extractStart, "start", 0, "First catalogue page, 1-based (required)")
	extractCmd.Flags().IntVar(&extractEnd, "end", 0, "Last catalogue page, 1-based (required)")
	extractCmd.Flags().StringVarP(&extractLanguage, "lang", "l", "中文", "Catalogue language tag")
	extractCmd.Flags().BoolVar(&extractSave, "save", false, "Save the extracted catalogue as the volume's artifact")
	extractCmd.MarkFlagRequired("pdf")
	extractCmd.MarkFlagRequired("start")
	extractCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(extractCmd)

	saveCatalogueCmd.Flags().StringVarP(&savePDFPath, "pdf", "p", "", "Path to the scanned PDF (required)")
	saveCatalogueCmd.Flags().StringVarP(&saveMappingPath, "from", "f", "", "JSON mapping file (required)")
	saveCatalogueCmd.MarkFlagRequired("pdf")
	saveCatalogueCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(saveCatalogueCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	path, err := absPath(extractPDFPath)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.Section("Catalogue Extraction")
	ui.Info("PDF file: %s", path)
	ui.Info("Catalogue pages: %d-%d (%s)", extractStart, extractEnd, extractLanguage)
	ui.Newline()

	busy := ui.StartBusy("Recognizing catalogue pages")
	start := time.Now()
	cat, err := a.Service.ExtractCatalogue(ctx, catalogue.ExtractRequest{
		SourcePath: path,
		StartPage:  extractStart,
		EndPage:    extractEnd,
		Language:   extractLanguage,
	})
	busy.Done()
	if err != nil {
		return fmt.Errorf("extract catalogue: %w", err)
	}

	ui.Success("Extracted %d entries in %s", cat.Len(), ui.FormatDuration(time.Since(start)))
	ui.Newline()
	printCatalogue(cat)

	if !extractSave {
		ui.Newline()
		ui.Info("Review the entries, then rerun with --save or use save-catalogue")
		return nil
	}

	artifact, err := a.Service.SaveCatalogue(path, cat)
	if err != nil {
		return fmt.Errorf("save catalogue: %w", err)
	}
	ui.Newline()
	ui.Success("Catalogue saved to %s", artifact)
	return nil
}

func runSaveCatalogue(cmd *cobra.Command, args []string) error {
	path, err := absPath(savePDFPath)
	if err != nil {
		return err
	}

	n, err := readMappingFile(saveMappingPath, cfg.Storage.CatalogueMarker)
	if err != nil {
		return err
	}
	if len(n.BadKeys) > 0 {
		return fmt.Errorf("mapping keys must be page labels like %q: %s",
			catalogue.FormatLabel(cfg.Storage.CatalogueMarker, 1), strings.Join(n.BadKeys, ", "))
	}
	for _, key := range n.Duplicates {
		ui.Warning("Duplicate label %s ignored", key)
	}
	if n.EmptyTitles > 0 {
		ui.Warning("%d entries without a title ignored", n.EmptyTitles)
	}

	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	artifact, err := a.Service.SaveCatalogue(path, &n.Catalogue)
	if err != nil {
		return fmt.Errorf("save catalogue: %w", err)
	}

	ui.Success("Saved %d entries to %s", n.Catalogue.Len(), artifact)
	return nil
}

// readMappingFile decodes a mapping file into a normalized catalogue. The
// file goes through the same repairs as a model answer.
func readMappingFile(path, marker string) (catalogue.Normalized, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return catalogue.Normalized{}, fmt.Errorf("read mapping: %w", err)
	}
	pairs, err := catalogue.DecodeMapping(string(data))
	if err != nil {
		return catalogue.Normalized{}, fmt.Errorf("decode mapping %s: %w", path, err)
	}
	return catalogue.Normalize(marker, pairs), nil
}
