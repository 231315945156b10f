package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies pending embedded migrations for driver and records them
// in schema_migrations. SQLite prefers a NNNN_name_sqlite.sql variant when
// one exists.
func Migrate(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	if err := ensureSchemaMigrationsTable(ctx, db, driver); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	files, err := migrationFiles(driver)
	if err != nil {
		return nil, err
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range files {
		version := migrationVersion(name)
		if applied[version] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return ran, fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := runMigration(ctx, db, version, string(data)); err != nil {
			return ran, fmt.Errorf("run migration %s: %w", name, err)
		}
		ran = append(ran, version)
	}
	return ran, nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB, driver string) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if driver == "sqlite" {
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)
		`
	}
	_, err := db.ExecContext(ctx, query)
	return err
}

func migrationFiles(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sqliteOnly := make(map[string]string)
	regular := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.HasSuffix(name, "_sqlite.sql") {
			sqliteOnly[strings.TrimSuffix(name, "_sqlite.sql")] = name
		} else {
			regular[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	var files []string
	for base, name := range regular {
		if driver == "sqlite" {
			if alt, ok := sqliteOnly[base]; ok {
				name = alt
			}
		}
		files = append(files, name)
	}
	if driver == "sqlite" {
		for base, name := range sqliteOnly {
			if _, ok := regular[base]; !ok {
				files = append(files, name)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func migrationVersion(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".sql"), "_sqlite")
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func runMigration(ctx context.Context, db *sql.DB, version, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitSQLStatements(content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// splitSQLStatements splits on ';' at line ends. Migrations here hold no
// procedural bodies.
func splitSQLStatements(content string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
