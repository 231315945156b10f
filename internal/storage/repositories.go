package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DocumentRepository handles document persistence and lookup.
type DocumentRepository struct {
	db     DB
	driver string // sqlite or postgres
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB, driver string) *DocumentRepository {
	return &DocumentRepository{db: db, driver: driver}
}

// Insert stores doc in its own statement. A zero UUID or insert date is
// filled in.
func (r *DocumentRepository) Insert(ctx context.Context, doc *Document) error {
	if doc.UUID == uuid.Nil {
		doc.UUID = uuid.New()
	}
	if doc.InsertDate.IsZero() {
		doc.InsertDate = time.Now().UTC()
	}
	if doc.FileBlob == nil {
		doc.FileBlob = []byte{}
	}

	query := `
		INSERT INTO documents (uuid, user_name, series_name, file_name, title,
			start_page, end_page, pdf_start_page, pdf_end_page,
			full_text, file, insert_date, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.UUID, doc.UserName, doc.SeriesName, doc.FileName, doc.Title,
		doc.StartPage, doc.EndPage, doc.PDFStartPage, doc.PDFEndPage,
		doc.FullText, doc.FileBlob, doc.InsertDate, nullable(doc.Date),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.UUID, err)
	}
	return nil
}

// GetByUUID retrieves a document with its full text, without the PDF blob.
func (r *DocumentRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT uuid, user_name, series_name, file_name, title,
			start_page, end_page, pdf_start_page, pdf_end_page,
			full_text, insert_date, date
		FROM documents WHERE uuid = $1
	`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// GetFile returns the stored PDF of a document and its file name.
func (r *DocumentRepository) GetFile(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	var (
		blob     []byte
		fileName sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT file, file_name FROM documents WHERE uuid = $1`, id).Scan(&blob, &fileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return blob, fileName.String, nil
}

// SearchFullText returns documents whose full text contains pattern,
// newest first. Results carry neither full text nor blob.
func (r *DocumentRepository) SearchFullText(ctx context.Context, pattern string, limit int) ([]*Document, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("search pattern must not be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	var (
		where string
		arg   string
	)
	if r.driver == "postgres" {
		where = "strpos(full_text, $1) > 0"
		arg = pattern
	} else {
		where = "full_text GLOB $1"
		arg = "*" + escapeGlob(pattern) + "*"
	}

	query := `
		SELECT uuid, user_name, series_name, file_name, title,
			start_page, end_page, pdf_start_page, pdf_end_page,
			insert_date, date
		FROM documents WHERE ` + where + `
		ORDER BY insert_date DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of stored documents.
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// LatestSeries lists one row per series, most recently ingested first.
func (r *DocumentRepository) LatestSeries(ctx context.Context, limit int) ([]*SeriesSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT d.uuid, d.user_name, d.series_name, s.cnt, d.insert_date
		FROM (
			SELECT series_name, COUNT(*) AS cnt, MAX(insert_date) AS last_insert
			FROM documents GROUP BY series_name
		) s
		JOIN documents d ON d.series_name = s.series_name AND d.insert_date = s.last_insert
		ORDER BY d.insert_date DESC, d.series_name
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var out []*SeriesSummary
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			s        SeriesSummary
			userName sql.NullString
		)
		if err := rows.Scan(&s.UUID, &userName, &s.SeriesName, &s.Documents, &s.LastInsert); err != nil {
			return nil, err
		}
		// documents inserted in the same instant share last_insert
		if seen[s.SeriesName] {
			continue
		}
		seen[s.SeriesName] = true
		s.UserName = userName.String
		out = append(out, &s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, withText bool) (*Document, error) {
	var (
		doc                       Document
		userName, fileName, title sql.NullString
		date                      sql.NullString
	)
	dest := []any{
		&doc.UUID, &userName, &doc.SeriesName, &fileName, &title,
		&doc.StartPage, &doc.EndPage, &doc.PDFStartPage, &doc.PDFEndPage,
	}
	if withText {
		dest = append(dest, &doc.FullText)
	}
	dest = append(dest, &doc.InsertDate, &date)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	doc.UserName = userName.String
	doc.FileName = fileName.String
	doc.Title = title.String
	doc.Date = date.String
	return &doc, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeGlob makes SQLite GLOB metacharacters match literally.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteRune('[')
			b.WriteRune(r)
			b.WriteRune(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
