// Package telemetry collects local query metrics for tuning fusion weights
// and candidate counts. Nothing leaves the machine.
package telemetry

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryPath identifies which execution path served a query.
type QueryPath string

const (
	PathIndex    QueryPath = "index"    // fused dense/sparse rankings
	PathDatabase QueryPath = "database" // structured statement with row resolution
	PathBypass   QueryPath = "bypass"   // raw index positions
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one recorded query.
type QueryEvent struct {
	Query   string
	Path    QueryPath
	Results int
	Latency time.Duration
}

// Snapshot is an immutable view of collected metrics.
type Snapshot struct {
	PathCounts        map[QueryPath]int64     `json:"path_counts"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	Latencies         map[LatencyBucket]int64 `json:"latencies"`
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	Since             time.Time               `json:"since"`
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultPercentage returns the share of queries with no results.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

const (
	defaultTopTermsCapacity    = 100
	defaultZeroResultsCapacity = 100
)

// Collector aggregates query metrics in memory. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	paths           map[QueryPath]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     []string
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	topTerms, _ := lru.New[string, int64](defaultTopTermsCapacity)
	return &Collector{
		paths:     make(map[QueryPath]int64),
		topTerms:  topTerms,
		latencies: make(map[LatencyBucket]int64),
		startTime: time.Now(),
	}
}

// Record captures one query event.
func (c *Collector) Record(event QueryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paths[event.Path]++
	c.totalQueries++
	c.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
	}

	if event.Results == 0 {
		c.zeroResultCount++
		c.zeroResults = append(c.zeroResults, event.Query)
		if len(c.zeroResults) > defaultZeroResultsCapacity {
			c.zeroResults = c.zeroResults[1:]
		}
	}
}

// Snapshot returns the current metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make(map[QueryPath]int64, len(c.paths))
	for k, v := range c.paths {
		paths[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	var terms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			if terms[j].Count > terms[i].Count {
				terms[i], terms[j] = terms[j], terms[i]
			}
		}
	}

	return &Snapshot{
		PathCounts:        paths,
		TopTerms:          terms,
		ZeroResultQueries: append([]string(nil), c.zeroResults...),
		Latencies:         latencies,
		TotalQueries:      c.totalQueries,
		ZeroResultCount:   c.zeroResultCount,
		Since:             c.startTime,
	}
}

// ExtractTerms lowercases a query and keeps whitespace-delimited terms of at
// least three characters.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}
