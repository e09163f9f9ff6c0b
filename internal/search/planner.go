package search

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/quarry-search/quarry/internal/store"
)

// subQuery is one embedded similarity clause lifted out of a statement,
// tagged with the index of its originating query. Extraction order (statement
// order, then clause order) is stable so the multiplexer can re-associate
// fused results exactly.
type subQuery struct {
	query int
	text  string
}

// parseStatements parses every query in the batch. A parse without a
// relational projection signals plain free text; when a translator is
// configured the raw text is rewritten into a structured query and re-parsed
// once. Parse failures propagate unmodified.
func (o *Orchestrator) parseStatements(ctx context.Context, queries []string) ([]*store.Statement, error) {
	statements := make([]*store.Statement, len(queries))
	for i, query := range queries {
		stmt, err := o.database.Parse(query)
		if err != nil {
			return nil, err
		}

		if !stmt.HasSelect() && o.translator != nil {
			rewritten, err := o.translator.Translate(ctx, query)
			if err != nil {
				return nil, err
			}
			o.logger.Debug("query_translated", slog.String("query", query), slog.String("statement", rewritten))
			if stmt, err = o.database.Parse(rewritten); err != nil {
				return nil, err
			}
		}

		statements[i] = stmt
	}
	return statements, nil
}

// batchLimit returns the largest explicit numeric LIMIT clause across the
// batch, or 0 when none is found. Non-numeric arguments count as absent.
func batchLimit(statements []*store.Statement) int {
	limit := 0
	for _, stmt := range statements {
		if n, ok := parsePositive(stmt.Limit); ok && n > limit {
			limit = n
		}
	}
	return limit
}

// extract flattens the embedded similarity clauses of all statements into
// one batch and derives the shared candidate count: the largest explicit
// clause argument, or a default computed from the filter shape. A filter
// with more than one token implies post-filter attrition, so the default
// over-fetches by the configured multiplier.
func extract(statements []*store.Statement, limit, multiplier int) ([]subQuery, int) {
	var batch []subQuery
	candidates := 0

	for x, stmt := range statements {
		for _, clause := range stmt.Similar {
			batch = append(batch, subQuery{query: x, text: clause[0]})
			if len(clause) > 1 {
				if n, ok := parsePositive(clause[1]); ok && n > candidates {
					candidates = n
				}
			}
		}
	}

	if candidates == 0 {
		multiToken := false
		for _, stmt := range statements {
			if len(strings.Fields(stmt.Where)) > 1 {
				multiToken = true
				break
			}
		}
		if multiToken {
			candidates = limit * multiplier
		} else {
			candidates = limit
		}
	}

	return batch, candidates
}

// parsePositive parses a strictly positive base-10 integer. Anything else
// (empty, signed, non-numeric) is reported as absent, never as an error.
func parsePositive(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
