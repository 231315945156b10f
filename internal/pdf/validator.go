package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

// ValidatePath checks that path points to a readable .pdf file.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %q)", ext), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	return f.Close()
}

// ValidatePageRange checks 1 <= start <= end <= pageCount.
func ValidatePageRange(start, end, pageCount int) error {
	switch {
	case start < 1:
		return domain.ValidationError(fmt.Sprintf("start page must be >= 1, got %d", start), nil)
	case end < start:
		return domain.ValidationError(fmt.Sprintf("end page %d is before start page %d", end, start), nil)
	case end > pageCount:
		return domain.ValidationError(fmt.Sprintf("end page %d exceeds page count %d", end, pageCount), nil)
	}
	return nil
}

// ResolveUnderRoot joins a client supplied path onto root and rejects
// results that leave root. Absolute paths are accepted only inside root.
func ResolveUnderRoot(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", domain.ValidationError("file path cannot be empty", nil)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", domain.ConfigError("cannot resolve storage root", err)
	}

	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(absRoot, p)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(absRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ValidationError(fmt.Sprintf("path %q is outside the storage root", p), nil)
	}
	return full, nil
}
