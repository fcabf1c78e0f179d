// Package engine runs the nixser render pipeline.
//
// A render moves one source document through five stages:
//
//  1. load: decode the source with pkg/config (CUE, Starlark, YAML, JSON)
//  2. policy: evaluate the document against Rego policies (optional)
//  3. encode: produce Nix text with pkg/nix
//  4. write: replace the output file unless it already holds the text
//  5. record: store the render, its events and the output hash (optional)
//
// Failures are reported as *PipelineError, classified as invalid_input,
// policy_denied, encode or io, with the stage that failed:
//
//	result, err := eng.Render(ctx, engine.RenderRequest{Source: "host.cue", Output: "host.nix"})
//	if engine.IsPolicyDenied(err) {
//	    // blocked by a policy; see err.(*engine.PipelineError).Details["violations"]
//	}
//
// RenderAll renders several requests on a bounded worker pool, and Watch
// keeps re-rendering them as their sources or policies change.
//
// Every render gets a UUID. With a history store attached, failed and denied
// renders are recorded too; dry runs are not. When the store knows the hash
// last written to an output and the file on disk differs, the render logs a
// drift warning before overwriting it.
package engine
