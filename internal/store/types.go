// Package store provides the retrieval backends for quarry: a dense ANN
// index (HNSW), a sparse BM25 index (Bleve), and a relational document
// database (SQLite). All three address documents by their zero-based
// insertion position; mapping positions to external IDs is the
// orchestrator's job.
package store

import (
	"context"
	"fmt"
)

// Candidate is a single index hit: a zero-based document position and a
// relevance score where higher is better.
type Candidate struct {
	Position int
	Score    float64
}

// Match is a resolved search result carrying an external document ID.
type Match struct {
	ID    string
	Score float64
}

// Row is one resolved database result row.
type Row map[string]any

// Document is a unit of content stored across all three backends. Position
// assignment is the caller's responsibility and must be consistent between
// the dense index, the sparse index, and the database.
type Document struct {
	ID   string // External identifier, unique
	Text string // Content to index and search
	Tags string // Optional free-form tags, filterable via WHERE
}

// DenseIndex performs approximate nearest neighbor search over embedding
// vectors. Hits are returned as insertion positions, one ranked list per
// input vector.
type DenseIndex interface {
	// Add appends vectors to the index. Positions are assigned sequentially
	// in insertion order.
	Add(ctx context.Context, vectors [][]float32) error

	// Search finds the k nearest neighbors for each query vector.
	Search(ctx context.Context, vectors [][]float32, k int) ([][]Candidate, error)

	// Count returns the number of indexed vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// SparseIndex performs term-frequency keyword search. Hits are returned as
// insertion positions, one ranked list per query.
type SparseIndex interface {
	// Index appends document texts. Positions are assigned sequentially.
	Index(ctx context.Context, texts []string) error

	// Search scores each query against the index, returning up to k hits per
	// query in descending score order.
	Search(ctx context.Context, queries []string, k int) ([][]Candidate, error)

	// Normalized reports whether returned scores are scaled to a common
	// 0-1 range. The fusion layer reads this once per call to choose between
	// convex combination and reciprocal rank fusion.
	Normalized() bool

	Close() error
}

// Statement is the parsed form of one query. Immutable after parse.
//
// Similar holds the embedded similarity clauses in source order; each entry
// is the clause arguments: the sub-query text, optionally followed by a raw
// candidate-count argument. In Where, each similarity clause is replaced by
// a positional placeholder ("similar0", "similar1", ...) so that downstream
// token heuristics still see the clause.
type Statement struct {
	Select  string     // Projection list, empty when the query is plain text
	Where   string     // Filter clause with similarN placeholders
	Limit   string     // Raw LIMIT argument, empty when absent
	Similar [][]string // similar() clause arguments in source order
}

// HasSelect reports whether the statement carries an explicit relational
// projection. Plain free-text queries do not.
func (s *Statement) HasSelect() bool {
	return s.Select != ""
}

// Database parses structured queries and resolves final result rows by
// combining externally-supplied candidate rankings with relational filters.
type Database interface {
	// Parse converts a raw query into a Statement. Plain free text yields a
	// statement with a single similarity clause and no projection. Malformed
	// relational queries fail with a ParseError.
	Parse(query string) (*Statement, error)

	// Search resolves rows for one parsed statement. Candidates are the
	// fused ranked lists for the statement's similarity clauses, in clause
	// order; empty when the statement has none.
	Search(ctx context.Context, stmt *Statement, candidates [][]Match, limit int) ([]Row, error)

	Close() error
}

// ParseError indicates a malformed relational query. It propagates to the
// batch caller unmodified; no fallback parse is attempted.
type ParseError struct {
	Query string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Query, e.Msg)
}

// ErrDimensionMismatch indicates a query vector whose dimension does not
// match the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
