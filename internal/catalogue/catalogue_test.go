package catalogue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"页码5", 5, true},
		{"5", 5, true},
		{" 页码 12 ", 12, true},
		{"页码１２", 12, true},
		{"页码", 0, false},
		{"页码0", 0, false},
		{"页码5-7", 0, false},
		{"第五页", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ParseLabel(DefaultMarker, tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_SortsDedupesAndDrops(t *testing.T) {
	pairs := []Pair{
		{"页码12", "第二章"},
		{"页码1", "序言"},
		{"页码5", "第一章\n"},
		{"页码5", "第一章（重复）"},
		{"页码7", "  "},
		{"目录", "无页码"},
	}

	n := Normalize(DefaultMarker, pairs)

	assert.Equal(t, []Entry{
		{PageLabel: 1, Title: "序言"},
		{PageLabel: 5, Title: "第一章"},
		{PageLabel: 12, Title: "第二章"},
	}, n.Catalogue.Entries)
	assert.Equal(t, []string{"目录"}, n.BadKeys)
	assert.Equal(t, []string{"页码5"}, n.Duplicates)
	assert.Equal(t, 1, n.EmptyTitles)
	assert.NoError(t, n.Catalogue.Validate())
}

func TestNormalize_OutputIsStrictlyIncreasing(t *testing.T) {
	pairs := []Pair{{"9", "c"}, {"3", "a"}, {"9", "dup"}, {"4", "b"}, {"3", "dup"}}
	cat := Normalize("", pairs).Catalogue

	require.NoError(t, cat.Validate())
	for i := 1; i < cat.Len(); i++ {
		assert.Less(t, cat.Entries[i-1].PageLabel, cat.Entries[i].PageLabel)
	}
}

func TestCatalogue_ValidateRejectsDisorder(t *testing.T) {
	cat := Catalogue{Entries: []Entry{{PageLabel: 5, Title: "a"}, {PageLabel: 5, Title: "b"}}}
	assert.Error(t, cat.Validate())
}

func TestEncodePairs_OrderedAndUnescaped(t *testing.T) {
	data, err := EncodePairs([]Pair{{"页码5", "第一章 <总论> & 附录"}, {"页码10", "第二章"}})
	require.NoError(t, err)

	want := "{\n    \"页码5\": \"第一章 <总论> & 附录\",\n    \"页码10\": \"第二章\"\n}\n"
	assert.Equal(t, want, string(data))

	empty, err := EncodePairs(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(empty))
}

func TestArtifactStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "series", "卷一.pdf")
	store := NewArtifactStore(DefaultMarker)

	cat := &Catalogue{Entries: []Entry{{1, "序言"}, {5, "第一章"}, {10, "第二章"}}}
	path, err := store.Save(source, cat)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "series", "卷一", "卷一_ocr_results.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Index(string(raw), "页码5") < strings.Index(string(raw), "页码10"))
	assert.Contains(t, string(raw), `"页码1": "序言"`)

	loaded, err := store.Load(source)
	require.NoError(t, err)
	assert.Equal(t, cat.Entries, loaded.Entries)
}

func TestArtifactStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "doc.pdf")
	store := NewArtifactStore("")

	_, err := store.Load(source)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCatalogueNotFound)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	path := store.PathFor(source)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	require.NoError(t, os.WriteFile(path, []byte(`{"页码1": "序言", "附录": "x"}`), 0o644))
	_, err = store.Load(source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not page labels")

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	_, err = store.Load(source)
	assert.ErrorIs(t, err, domain.ErrEmptyCatalogue)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err = store.Load(source)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestArtifactStore_SaveRejectsEmpty(t *testing.T) {
	_, err := NewArtifactStore("").Save(filepath.Join(t.TempDir(), "doc.pdf"), &Catalogue{})
	assert.ErrorIs(t, err, domain.ErrEmptyCatalogue)
}

func TestNormalize_EmptyTitleDoesNotClaimLabel(t *testing.T) {
	pairs, err := DecodeMapping(`{"页码1":"","页码1":"序言","页码4":"第一章"}`)
	require.NoError(t, err)

	n := Normalize(DefaultMarker, pairs)

	assert.Equal(t, []Entry{
		{PageLabel: 1, Title: "序言"},
		{PageLabel: 4, Title: "第一章"},
	}, n.Catalogue.Entries)
	assert.Equal(t, 1, n.EmptyTitles)
	assert.Empty(t, n.Duplicates)
}
