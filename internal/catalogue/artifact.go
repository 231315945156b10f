package catalogue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

const artifactSuffix = "_ocr_results.json"

// ArtifactStore persists catalogues next to their source PDF. The artifact
// for dir/name.pdf lives at dir/name/name_ocr_results.json and is the only
// catalogue input ingestion reads.
type ArtifactStore struct {
	marker string
}

// NewArtifactStore creates a store writing labels with marker.
func NewArtifactStore(marker string) *ArtifactStore {
	if marker == "" {
		marker = DefaultMarker
	}
	return &ArtifactStore{marker: marker}
}

// Marker returns the label prefix used in artifacts.
func (s *ArtifactStore) Marker() string { return s.marker }

// PathFor returns the artifact path for a source PDF.
func (s *ArtifactStore) PathFor(sourcePath string) string {
	dir := filepath.Dir(sourcePath)
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(dir, stem, stem+artifactSuffix)
}

// Save writes cat for sourcePath, replacing any previous artifact.
func (s *ArtifactStore) Save(sourcePath string, cat *Catalogue) (string, error) {
	if cat.Len() == 0 {
		return "", domain.ValidationError("refusing to save an empty catalogue", domain.ErrEmptyCatalogue)
	}
	if err := cat.Validate(); err != nil {
		return "", domain.ValidationError("catalogue out of order", err)
	}

	data, err := EncodePairs(cat.Pairs(s.marker))
	if err != nil {
		return "", domain.IOError("encode catalogue", err)
	}

	path := s.PathFor(sourcePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.IOError("create catalogue directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalogue-*.json")
	if err != nil {
		return "", domain.IOError("create temp catalogue", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", domain.IOError("write catalogue", err)
	}
	if err := tmp.Close(); err != nil {
		return "", domain.IOError("close catalogue", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", domain.IOError("publish catalogue", err)
	}
	return path, nil
}

// Load reads the artifact for sourcePath. A missing artifact yields
// domain.ErrCatalogueNotFound; a garbled one a validation error.
func (s *ArtifactStore) Load(sourcePath string) (*Catalogue, error) {
	path := s.PathFor(sourcePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ValidationError(fmt.Sprintf("no catalogue at %s", path), domain.ErrCatalogueNotFound)
		}
		return nil, domain.IOError("read catalogue", err)
	}

	pairs, err := decodeObject(string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("catalogue %s is not a flat mapping", path), err)
	}

	n := Normalize(s.marker, pairs)
	if len(n.BadKeys) > 0 {
		return nil, domain.ValidationError(fmt.Sprintf("catalogue %s has keys that are not page labels: %v", path, n.BadKeys), nil)
	}
	if n.Catalogue.Len() == 0 {
		return nil, domain.ValidationError(fmt.Sprintf("catalogue %s has no entries", path), domain.ErrEmptyCatalogue)
	}
	return &n.Catalogue, nil
}

// EncodePairs writes pairs as a JSON object in the given order, indented by
// four spaces, without escaping non-ASCII or HTML characters.
func EncodePairs(pairs []Pair) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, p := range pairs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    ")
		if err := writeJSONString(&buf, p.Key); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		if err := writeJSONString(&buf, p.Value); err != nil {
			return nil, err
		}
	}
	if len(pairs) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
