package batch

import (
	"context"
	"time"

	"imgharvest/pkg/category"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/runmode"
)

// Status is the outcome of one category
type Status string

const (
	StatusSucceeded          Status = "succeeded"
	StatusPartiallySucceeded Status = "partiallySucceeded"
	StatusFailed             Status = "failed"
)

// Request is one backend invocation
type Request struct {
	Category    category.Category
	Query       string
	Destination string
	Limit       int
	Engine      string
}

// Backend searches for and downloads up to Limit images into Destination as
// sequentially numbered files, continuing after any numbered files already
// present. Returning fewer than Limit without an error means the results
// were exhausted.
type Backend interface {
	Fetch(ctx context.Context, req Request) (int, error)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, req Request) (int, error)

func (f BackendFunc) Fetch(ctx context.Context, req Request) (int, error) {
	return f(ctx, req)
}

// RunConfig holds the resolved parameters of one run. It is built once and
// passed by value.
type RunConfig struct {
	ImagesPerCategory int
	OutputRoot        string
	Engine            string
	Mode              runmode.Mode
	// Workers above 1 processes independent categories concurrently
	Workers int
	// RetryAttempts is the number of backend attempts per category; 1 means
	// no retry
	RetryAttempts int
	RunID         string
	// Source is the category file the run was loaded from
	Source string
}

// DefaultRunConfig returns the configuration of an unconfigured full run
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ImagesPerCategory: 50,
		OutputRoot:        "scraped_images",
		Engine:            "bing",
		Mode:              runmode.Full,
		Workers:           1,
		RetryAttempts:     1,
	}
}

// CategoryResult is the outcome of processing one category
type CategoryResult struct {
	Index     int    `json:"index" yaml:"index"`
	Name      string `json:"name" yaml:"name"`
	Hint      int    `json:"hint,omitempty" yaml:"hint,omitempty"`
	Directory string `json:"directory" yaml:"directory"`
	Status    Status `json:"status" yaml:"status"`
	// Count is the number of files that appeared in Directory
	Count     int            `json:"count" yaml:"count"`
	Reason    errs.Kind      `json:"reason,omitempty" yaml:"reason,omitempty"`
	ErrorType errs.ErrorType `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Detail    string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
	Attempts  int            `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	// CollidesWith names the other selected categories sharing Directory
	CollidesWith []string `json:"collides_with,omitempty" yaml:"collides_with,omitempty"`
	// Resumed marks a result reused from a checkpoint
	Resumed bool `json:"resumed,omitempty" yaml:"resumed,omitempty"`
}

// Failed reports whether the category failed
func (r CategoryResult) Failed() bool {
	return r.Status == StatusFailed
}

// RunReport is the ordered record of every completed category
type RunReport struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	Engine      string           `json:"engine" yaml:"engine"`
	Mode        string           `json:"mode" yaml:"mode"`
	Limit       int              `json:"limit" yaml:"limit"`
	OutputRoot  string           `json:"output_root" yaml:"output_root"`
	Selected    int              `json:"selected" yaml:"selected"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time        `json:"finished_at" yaml:"finished_at"`
	Interrupted bool             `json:"interrupted" yaml:"interrupted"`
	Results     []CategoryResult `json:"results" yaml:"results"`
}

// Count returns the number of results with the given status
func (r *RunReport) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// TotalImages returns the number of images across all results
func (r *RunReport) TotalImages() int {
	n := 0
	for _, res := range r.Results {
		n += res.Count
	}
	return n
}

// ZeroImage returns the results that produced no image
func (r *RunReport) ZeroImage() []CategoryResult {
	var out []CategoryResult
	for _, res := range r.Results {
		if res.Count == 0 {
			out = append(out, res)
		}
	}
	return out
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Complete reports whether every selected category has a result
func (r *RunReport) Complete() bool {
	return !r.Interrupted && len(r.Results) == r.Selected
}
