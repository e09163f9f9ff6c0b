package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Statement grammar. Queries are either plain free text or a relational
// query of the form:
//
//	SELECT <columns> FROM documents [WHERE <filter>] [LIMIT <n>]
//
// The filter may embed similarity clauses: similar('query text'[, count]).
// Each clause is pulled out into Statement.Similar and replaced in the WHERE
// text by a positional placeholder (similar0, similar1, ...).
var (
	sqlPrefixRe = regexp.MustCompile(`(?i)^\s*select\s`)
	selectRe    = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+documents\b(.*)$`)
	whereRe     = regexp.MustCompile(`(?is)\bwhere\s+(.+?)(?:\s+group\s+by\b|\s+order\s+by\b|\s+limit\b|\s+offset\b|\z)`)
	limitRe     = regexp.MustCompile(`(?is)\blimit\s+(\S+)`)
	similarRe   = regexp.MustCompile(`(?i)similar\s*\(\s*('[^']*'|"[^"]*")\s*(?:,\s*([^)]+?)\s*)?\)`)
)

// ParseStatement parses a raw query into a Statement. Plain free text (no
// SELECT prefix) becomes a single similarity clause with no projection,
// which signals the planner to attempt translation.
func ParseStatement(query string) (*Statement, error) {
	trimmed := strings.TrimSpace(query)

	if !sqlPrefixRe.MatchString(trimmed) {
		return &Statement{Similar: [][]string{{trimmed}}}, nil
	}

	m := selectRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, &ParseError{Query: query, Msg: "expected SELECT <columns> FROM documents"}
	}
	stmt := &Statement{Select: strings.TrimSpace(m[1])}
	rest := m[2]

	if wm := whereRe.FindStringSubmatch(rest); wm != nil {
		where, similar := extractSimilar(strings.TrimSpace(wm[1]))
		stmt.Where = where
		stmt.Similar = similar
	}

	if lm := limitRe.FindStringSubmatch(rest); lm != nil {
		stmt.Limit = strings.TrimSpace(lm[1])
	}

	return stmt, nil
}

// extractSimilar replaces similar() clauses with positional placeholders and
// returns the rewritten filter plus the clause arguments in source order.
func extractSimilar(where string) (string, [][]string) {
	var clauses [][]string
	rewritten := similarRe.ReplaceAllStringFunc(where, func(clause string) string {
		m := similarRe.FindStringSubmatch(clause)
		args := []string{unquote(m[1])}
		if strings.TrimSpace(m[2]) != "" {
			args = append(args, unquote(strings.TrimSpace(m[2])))
		}
		placeholder := fmt.Sprintf("similar%d", len(clauses))
		clauses = append(clauses, args)
		return placeholder
	})
	return rewritten, clauses
}

// unquote strips one matching pair of single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
