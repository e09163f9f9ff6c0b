package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-search/quarry/internal/store"
)

func TestBatchLimit_PicksLargestNumericLimit(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Limit: "5"},
		{Select: "id", Limit: "12"},
		{Select: "id"},
	}

	assert.Equal(t, 12, batchLimit(statements))
}

func TestBatchLimit_NonNumericLimitCountsAsAbsent(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Limit: "ten"},
		{Select: "id", Limit: "-3"},
		{Select: "id", Limit: ""},
	}

	assert.Equal(t, 0, batchLimit(statements))
}

func TestExtract_LargestExplicitCandidateWins(t *testing.T) {
	// One query with two similar clauses carrying explicit candidate counts
	statements := []*store.Statement{
		{Select: "id", Where: "similar0 and similar1", Similar: [][]string{{"cats", "5"}, {"dogs", "20"}}},
	}

	batch, candidates := extract(statements, 3, 10)

	require.Len(t, batch, 2)
	assert.Equal(t, 20, candidates)
}

func TestExtract_SingleTokenFilterDefaultsToLimit(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Where: "similar0", Similar: [][]string{{"cats"}}},
	}

	_, candidates := extract(statements, 3, 10)

	assert.Equal(t, 3, candidates)
}

func TestExtract_MultiTokenFilterOverfetches(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Where: "tags = 'pet' and similar0", Similar: [][]string{{"cats"}}},
	}

	_, candidates := extract(statements, 3, 10)

	assert.Equal(t, 30, candidates)
}

func TestExtract_MultiplierIsPolicy(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Where: "tags = 'pet' and similar0", Similar: [][]string{{"cats"}}},
	}

	_, candidates := extract(statements, 3, 4)

	assert.Equal(t, 12, candidates)
}

func TestExtract_PreservesStatementThenClauseOrder(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Where: "similar0 and similar1", Similar: [][]string{{"a"}, {"b"}}},
		{Select: "id"},
		{Select: "id", Where: "similar0", Similar: [][]string{{"c"}}},
	}

	batch, _ := extract(statements, 3, 10)

	require.Len(t, batch, 3)
	assert.Equal(t, subQuery{query: 0, text: "a"}, batch[0])
	assert.Equal(t, subQuery{query: 0, text: "b"}, batch[1])
	assert.Equal(t, subQuery{query: 2, text: "c"}, batch[2])
}

func TestExtract_NonNumericCandidateArgumentIsAbsent(t *testing.T) {
	statements := []*store.Statement{
		{Select: "id", Where: "similar0", Similar: [][]string{{"cats", "lots"}}},
	}

	_, candidates := extract(statements, 7, 10)

	assert.Equal(t, 7, candidates)
}

func TestParsePositive(t *testing.T) {
	cases := []struct {
		in string
		n  int
		ok bool
	}{
		{"10", 10, true},
		{"1", 1, true},
		{"0", 0, false},
		{"", 0, false},
		{"-5", 0, false},
		{"3.5", 0, false},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		n, ok := parsePositive(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.n, n, "input %q", tc.in)
	}
}
