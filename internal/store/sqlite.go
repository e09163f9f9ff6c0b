package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// documentsSchema holds indexed content plus filterable metadata. The
// indexid column mirrors the position assigned by the dense and sparse
// indexes.
const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	indexid INTEGER PRIMARY KEY,
	id      TEXT NOT NULL UNIQUE,
	text    TEXT,
	tags    TEXT,
	entry   TEXT DEFAULT CURRENT_TIMESTAMP
)`

// defaultColumns is the projection used when a statement has none.
var defaultColumns = []string{"id", "text", "score"}

// placeholderRe matches similarity placeholders left in WHERE clauses by the
// parser. They are neutralized before the clause reaches SQLite.
var placeholderRe = regexp.MustCompile(`(?i)\bsimilar\d+\b`)

// SQLiteDatabase implements Database on a local SQLite file. WHERE clauses
// are interpolated verbatim; the database is a local, caller-owned store.
type SQLiteDatabase struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// OpenSQLite opens (creating if needed) a document database. An empty path
// opens an in-memory database.
func OpenSQLite(path string) (*SQLiteDatabase, error) {
	memory := path == ""
	if memory {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if memory {
		// Pooled connections would each see their own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteDatabase{db: db}, nil
}

// SaveDocuments appends documents, assigning sequential positions after the
// current maximum.
func (s *SQLiteDatabase) SaveDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sqlite: database is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var next int
	row := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(indexid) + 1, 0) FROM documents")
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("sqlite: next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO documents (indexid, id, text, tags) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		if _, err := stmt.ExecContext(ctx, next+i, doc.ID, doc.Text, doc.Tags); err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of stored documents.
func (s *SQLiteDatabase) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	return count, err
}

// IDs returns all external document IDs in position order, forming the
// position-to-ID lookup table used by the orchestrator's resolver.
func (s *SQLiteDatabase) IDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents ORDER BY indexid")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Parse converts a raw query into a Statement.
func (s *SQLiteDatabase) Parse(query string) (*Statement, error) {
	return ParseStatement(query)
}

// Search resolves rows for one parsed statement. When candidate rankings are
// supplied, rows are restricted to candidates, scored by summing each
// clause's contribution, and ordered by descending score with first-arrival
// tie-break. Pure filter statements return rows in insertion order.
func (s *SQLiteDatabase) Search(ctx context.Context, stmt *Statement, candidates [][]Match, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("sqlite: database is closed")
	}

	scores := make(map[string]float64)
	arrival := make(map[string]int)
	for _, list := range candidates {
		for _, m := range list {
			if _, ok := arrival[m.ID]; !ok {
				arrival[m.ID] = len(arrival)
			}
			scores[m.ID] += m.Score
		}
	}

	query := "SELECT indexid, id, text, tags, entry FROM documents"
	// Placeholders have done their duty (candidate scoping happens here, not
	// in SQL); rewrite them as tautologies so the remaining filter stands.
	if where := strings.TrimSpace(stmt.Where); where != "" {
		query += " WHERE " + placeholderRe.ReplaceAllString(where, "1")
	}
	query += " ORDER BY indexid"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	type scanned struct {
		indexid int64
		id      string
		text    sql.NullString
		tags    sql.NullString
		entry   sql.NullString
	}

	var matched []scanned
	for rows.Next() {
		var r scanned
		if err := rows.Scan(&r.indexid, &r.id, &r.text, &r.tags, &r.entry); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if len(candidates) > 0 {
			if _, ok := scores[r.id]; !ok {
				continue
			}
		}
		matched = append(matched, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	if len(candidates) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			si, sj := scores[matched[i].id], scores[matched[j].id]
			if si != sj {
				return si > sj
			}
			return arrival[matched[i].id] < arrival[matched[j].id]
		})
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	columns := projection(stmt)
	results := make([]Row, 0, len(matched))
	for _, r := range matched {
		row := Row{}
		for _, col := range columns {
			switch col {
			case "indexid":
				row["indexid"] = r.indexid
			case "id":
				row["id"] = r.id
			case "text":
				row["text"] = nullable(r.text)
			case "tags":
				row["tags"] = nullable(r.tags)
			case "entry":
				row["entry"] = nullable(r.entry)
			case "score":
				if len(candidates) > 0 {
					row["score"] = scores[r.id]
				}
			}
		}
		results = append(results, row)
	}

	return results, nil
}

// Close releases the database handle.
func (s *SQLiteDatabase) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Database = (*SQLiteDatabase)(nil)

// projection returns the output column list for a statement.
func projection(stmt *Statement) []string {
	if !stmt.HasSelect() || stmt.Select == "*" {
		return defaultColumns
	}
	parts := strings.Split(stmt.Select, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.ToLower(strings.TrimSpace(p)))
	}
	return columns
}

func nullable(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}
