// Package preflight validates the environment before indexing. Failures here
// are cheaper to surface up front than halfway through an embedding run.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarry-search/quarry/internal/embed"
)

// Status is the result level of a check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result holds one check outcome.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Check is a single preflight validation.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// Run executes checks in order and returns all results plus the first
// critical failure, if any.
func Run(ctx context.Context, checks ...Check) ([]Result, error) {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		result := check.Run(ctx)
		results = append(results, result)
		if result.IsCritical() {
			return results, fmt.Errorf("preflight: %s: %s", result.Name, result.Message)
		}
	}
	return results, nil
}

// DataDirCheck verifies the data directory exists (creating it if needed) and
// is writable.
type DataDirCheck struct {
	Dir string
}

// Name returns the check name.
func (c DataDirCheck) Name() string { return "data-dir" }

// Run performs the check.
func (c DataDirCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name(), Required: true}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.Dir, err)
		return result
	}

	probe := filepath.Join(c.Dir, ".quarry-write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable: %v", c.Dir, err)
		return result
	}
	os.Remove(probe)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is writable", c.Dir)
	return result
}

// EmbedderCheck verifies the embedder responds and produces vectors of the
// advertised dimension. For API providers this catches bad credentials and
// unreachable endpoints before any document is read.
type EmbedderCheck struct {
	Embedder embed.Embedder
}

// Name returns the check name.
func (c EmbedderCheck) Name() string { return "embedder" }

// Run performs the check.
func (c EmbedderCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name(), Required: true}

	vec, err := c.Embedder.Embed(ctx, "preflight probe")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("embedding probe failed: %v", err)
		return result
	}
	if len(vec) != c.Embedder.Dimensions() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("dimension mismatch: advertised %d, got %d", c.Embedder.Dimensions(), len(vec))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s produces %d-dimensional vectors", c.Embedder.ModelName(), len(vec))
	return result
}
