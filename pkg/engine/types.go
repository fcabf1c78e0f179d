package engine

import (
	"time"

	"github.com/openfroyo/nixser/pkg/config"
	"github.com/openfroyo/nixser/pkg/policy"
)

// RenderRequest describes one render.
type RenderRequest struct {
	// Source is the input file, or a directory holding a CUE package.
	Source string `json:"source" validate:"required"`

	// Data, when set, is decoded instead of reading Source; Source is then
	// only used as the document name and for format detection.
	Data []byte `json:"-"`

	// Output is the file to write. Empty means the text is only returned.
	Output string `json:"output,omitempty" validate:"omitempty,max=4096"`

	// DryRun runs every stage except writing and recording history.
	DryRun bool `json:"dry_run"`

	// Force writes the output even when it is unchanged.
	Force bool `json:"force"`
}

// RenderResult is the outcome of a successful render.
type RenderResult struct {
	// ID identifies the render in the history.
	ID string `json:"id"`

	// Source is the input document.
	Source string `json:"source"`

	// Format is the format the source was decoded as.
	Format config.Format `json:"format"`

	// Output is the file written, empty when the text was only returned.
	Output string `json:"output,omitempty"`

	// Text is the rendered Nix.
	Text string `json:"-"`

	// Hash is the hex SHA-256 of Text.
	Hash string `json:"hash"`

	// Written is true when Output was (re)written.
	Written bool `json:"written"`

	// Unchanged is true when the write was skipped because Output already
	// held Text.
	Unchanged bool `json:"unchanged"`

	// Warnings are non-blocking policy findings.
	Warnings []policy.Violation `json:"warnings,omitempty"`

	// Duration is the wall time of the render.
	Duration time.Duration `json:"duration"`
}

// Options configures an Engine.
type Options struct {
	// Load controls how sources are decoded.
	Load config.Options

	// MaxParallel bounds concurrent renders in RenderAll.
	MaxParallel int `validate:"gte=0,lte=256"`

	// FailFast stops RenderAll at the first failure.
	FailFast bool
}

// DefaultOptions returns engine options with default load options.
func DefaultOptions() Options {
	return Options{
		Load:        config.DefaultOptions(),
		MaxParallel: 4,
	}
}
