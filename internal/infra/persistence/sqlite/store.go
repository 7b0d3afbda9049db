// Package sqlite indexes the capture ledger in a SQLite database so captures
// can be searched by taxon and session. The index is derived data: it is
// rebuilt wholesale from captures.csv and never written by ingestion.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"drawerstore/pkg/domain"
)

// Catalog is a SQLite-backed capture index.
type Catalog struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Query filters a catalog search. Empty fields match everything; set fields
// match case-insensitively and exactly.
type Query struct {
	Order   string
	Family  string
	Genus   string
	Species string
	Session string
	Limit   int
}

// Open opens or creates the catalog database at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS captures (
		directory TEXT PRIMARY KEY,
		date      TEXT NOT NULL,
		session   TEXT NOT NULL,
		capturer  TEXT NOT NULL,
		museum    TEXT NOT NULL,
		tax_order TEXT NOT NULL,
		family    TEXT NOT NULL,
		genus     TEXT NOT NULL,
		species   TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create captures table: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Rebuild replaces the index contents with rows in one transaction. Rows
// sharing a directory keep the last occurrence.
func (c *Catalog) Rebuild(ctx context.Context, rows []domain.CaptureRecord) (retErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM captures`); err != nil {
		return fmt.Errorf("clear captures: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO captures(directory,date,session,capturer,museum,tax_order,family,genus,species)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(directory) DO UPDATE SET date=excluded.date, session=excluded.session, capturer=excluded.capturer,
		museum=excluded.museum, tax_order=excluded.tax_order, family=excluded.family, genus=excluded.genus, species=excluded.species`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Directory, r.Date, r.Session, r.Capturer, r.Museum, r.Order, r.Family, r.Genus, r.Species); err != nil {
			return fmt.Errorf("insert %s: %w", r.Directory, err)
		}
	}
	return tx.Commit()
}

// Search returns the captures matching q ordered by session, then directory.
func (c *Catalog) Search(ctx context.Context, q Query) ([]domain.CaptureRecord, error) {
	var (
		where []string
		args  []any
	)
	for _, f := range []struct {
		column string
		value  string
	}{
		{"tax_order", q.Order},
		{"family", q.Family},
		{"genus", q.Genus},
		{"species", q.Species},
		{"session", q.Session},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			where = append(where, f.column+" = ? COLLATE NOCASE")
			args = append(args, v)
		}
	}
	query := `SELECT date,session,capturer,museum,tax_order,family,genus,species,directory FROM captures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY session, directory"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search captures: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []domain.CaptureRecord{}
	for rows.Next() {
		var r domain.CaptureRecord
		if err := rows.Scan(&r.Date, &r.Session, &r.Capturer, &r.Museum, &r.Order, &r.Family, &r.Genus, &r.Species, &r.Directory); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of indexed captures.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (c *Catalog) DB() *sql.DB { return c.db }

// Path returns the configured database path.
func (c *Catalog) Path() string { return c.path }
