// Package storage persists segmented archive documents.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// Document is one persisted catalogue entry. Records are append-only;
// re-ingesting a source creates new records.
type Document struct {
	UUID       uuid.UUID `json:"uuid" db:"uuid"`
	UserName   string    `json:"userName" db:"user_name"`
	SeriesName string    `json:"seriesName" db:"series_name"`
	FileName   string    `json:"fileName" db:"file_name"`
	Title      string    `json:"title" db:"title"`
	// StartPage and EndPage use the catalogue's printed numbering.
	StartPage int `json:"startPage" db:"start_page"`
	EndPage   int `json:"endPage" db:"end_page"`
	// PDFStartPage and PDFEndPage are absolute pages of the source PDF.
	PDFStartPage int       `json:"pdfStartPage" db:"pdf_start_page"`
	PDFEndPage   int       `json:"pdfEndPage" db:"pdf_end_page"`
	FullText     string    `json:"fullText,omitempty" db:"full_text"`
	FileBlob     []byte    `json:"-" db:"file"`
	InsertDate   time.Time `json:"insertDate" db:"insert_date"`
	Date         string    `json:"date,omitempty" db:"date"`
}

// SeriesSummary is one row of the latest-series listing.
type SeriesSummary struct {
	UUID       uuid.UUID `json:"uuid"`
	UserName   string    `json:"userName"`
	SeriesName string    `json:"seriesName"`
	Documents  int       `json:"documents"`
	LastInsert time.Time `json:"lastInsert"`
}
