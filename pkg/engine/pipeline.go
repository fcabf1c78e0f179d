package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openfroyo/nixser/pkg/config"
	"github.com/openfroyo/nixser/pkg/nix"
	"github.com/openfroyo/nixser/pkg/policy"
	"github.com/openfroyo/nixser/pkg/stores"
	"github.com/openfroyo/nixser/pkg/telemetry"
	"github.com/openfroyo/nixser/pkg/transports/ssh"
	"github.com/rs/zerolog"
)

// Engine runs the render pipeline: load, policy, encode, write, record.
type Engine struct {
	opts     Options
	loader   *config.Loader
	policies *policy.Engine
	store    stores.Store
	remotes  *ssh.Pool
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	validate *validator.Validate
}

// Option configures optional pipeline stages.
type Option func(*Engine)

// WithPolicies gates every render through the given policy engine.
func WithPolicies(p *policy.Engine) Option {
	return func(e *Engine) {
		e.policies = p
	}
}

// WithStore records every render in the given history store.
func WithStore(s stores.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithTelemetry reports spans and metrics to tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = tel
	}
}

// NewEngine creates a render engine.
func NewEngine(opts Options, logger zerolog.Logger, options ...Option) (*Engine, error) {
	validate := validator.New()
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	if opts.MaxParallel == 0 {
		opts.MaxParallel = DefaultOptions().MaxParallel
	}

	loader, err := config.NewLoader(opts.Load, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:     opts,
		loader:   loader,
		logger:   logger.With().Str("component", "engine").Logger(),
		validate: validate,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.tel == nil {
		e.tel = telemetry.NewDiscard()
	}

	return e, nil
}

// Policies returns the policy engine, or nil when renders are not gated.
func (e *Engine) Policies() *policy.Engine {
	return e.policies
}

// run carries the state of one render between stages.
type run struct {
	id      string
	req     RenderRequest
	started time.Time
	format  config.Format
	logger  zerolog.Logger
	events  []stores.Event

	// outputKey names the resolved output in the history.
	outputKey string

	violations []policy.Violation
	warnings   []policy.Violation
}

func (r *run) event(level stores.EventLevel, message string, details any) {
	ev := stores.Event{
		RenderID:  r.id,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			ev.Details = &s
		}
	}
	r.events = append(r.events, ev)
}

// Load decodes a source without rendering it.
func (e *Engine) Load(ctx context.Context, source string) (*config.Document, error) {
	doc, err := e.loader.Load(ctx, source)
	if err != nil {
		return nil, newPipelineError(ErrorClassInvalidInput, StageLoad, source, "failed to load source", err)
	}
	return doc, nil
}

// Render runs the full pipeline for one request. On failure the error is a
// *PipelineError.
func (e *Engine) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, newPipelineError(ErrorClassInvalidInput, StageValidate, req.Source, "invalid render request", err)
	}

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		started: time.Now(),
	}
	r.logger = e.logger.With().Str("render_id", r.id).Str("source", req.Source).Logger()

	ctx = e.tel.WithContext(ctx)
	ctx, span := e.tel.Tracer.StartRenderSpan(ctx, r.id, string(e.opts.Load.Format))
	span.SetAttributes(telemetry.AttrSource.String(req.Source), telemetry.AttrOutput.String(req.Output))
	defer span.End()

	result, err := e.render(ctx, r)
	duration := time.Since(r.started)

	if err != nil {
		telemetry.RecordError(span, err)
		span.SetAttributes(telemetry.AttrErrorClass.String(string(ClassOf(err))))
		e.tel.Metrics.RecordError(string(ClassOf(err)))
		e.tel.Metrics.RecordRender(string(statusOf(err)), string(r.format), duration, 0)
		r.logger.Debug().Err(err).Dur("duration", duration).Msg("Render failed")
	} else {
		result.Duration = duration
		telemetry.RecordSuccess(span)
		span.SetAttributes(telemetry.AttrOutputBytes.Int(len(result.Text)))
		e.tel.Metrics.RecordRender(string(stores.RenderStatusSucceeded), string(r.format), duration, len(result.Text))
		r.logger.Info().
			Str("output", result.Output).
			Int("bytes", len(result.Text)).
			Bool("written", result.Written).
			Dur("duration", duration).
			Msg("Render completed")
	}

	e.record(ctx, r, result, err, duration)

	return result, err
}

func (e *Engine) render(ctx context.Context, r *run) (*RenderResult, error) {
	doc, err := e.load(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := e.gate(ctx, r, doc); err != nil {
		return nil, err
	}

	text, err := e.encode(ctx, r, doc)
	if err != nil {
		return nil, err
	}

	result := &RenderResult{
		ID:       r.id,
		Source:   r.req.Source,
		Format:   doc.Format,
		Output:   r.req.Output,
		Text:     text,
		Hash:     hashText(text),
		Warnings: r.warnings,
	}

	if err := e.write(ctx, r, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) load(ctx context.Context, r *run) (doc *config.Document, err error) {
	op := telemetry.StartOperation(ctx, string(StageLoad))
	defer func() { op.End(err) }()

	if r.req.Data != nil {
		doc, err = e.loader.LoadSource(op.Ctx, config.Source{Name: r.req.Source, Data: r.req.Data})
	} else {
		doc, err = e.loader.Load(op.Ctx, r.req.Source)
	}
	if err != nil {
		return nil, newPipelineError(ErrorClassInvalidInput, StageLoad, r.req.Source, "failed to load source", err)
	}

	r.format = doc.Format
	return doc, nil
}

func (e *Engine) gate(ctx context.Context, r *run, doc *config.Document) (err error) {
	if e.policies == nil {
		return nil
	}

	op := telemetry.StartOperation(ctx, string(StagePolicy))
	defer func() { op.End(err) }()

	operation := "render"
	if r.req.DryRun {
		operation = "validate"
	}

	result, err := e.policies.Evaluate(op.Ctx, &policy.Input{
		Document: doc.Name,
		Format:   string(doc.Format),
		Data:     doc.Data(),
		Context: &policy.Context{
			Operation: operation,
			Output:    r.req.Output,
			Timestamp: time.Now(),
			DryRun:    r.req.DryRun,
		},
	})
	if err != nil {
		return newPipelineError(ErrorClassPolicyDenied, StagePolicy, r.req.Source, "policy evaluation failed", err)
	}

	for _, w := range result.Warnings {
		e.tel.Metrics.RecordPolicyViolation(w.Policy, string(w.Severity))
		r.logger.Warn().Str("policy", w.Policy).Str("path", w.Path).Msg(w.Message)
		r.event(stores.EventLevelWarning, w.Message, w)
	}
	r.warnings = result.Warnings

	if result.Allowed {
		return nil
	}

	for _, v := range result.Violations {
		e.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		r.event(stores.EventLevelError, v.Message, v)
	}
	r.violations = result.Violations

	first := result.Violations[0]
	msg := fmt.Sprintf("denied by policy %s: %s", first.Policy, first.Message)
	if n := len(result.Violations); n > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
	}
	return newPipelineError(ErrorClassPolicyDenied, StagePolicy, r.req.Source, msg, nil).
		WithDetail("violations", result.Violations)
}

func (e *Engine) encode(ctx context.Context, r *run, doc *config.Document) (text string, err error) {
	op := telemetry.StartOperation(ctx, string(StageEncode))
	defer func() { op.End(err) }()

	text, err = nix.Encode(doc.Value)
	if err != nil {
		return "", newPipelineError(ErrorClassEncode, StageEncode, r.req.Source, "failed to encode document", err)
	}
	return text, nil
}

// write stores the text at the requested output, a local file or an
// ssh:// location, unless it already holds it. An output changed since the
// last recorded render is logged as drift and overwritten.
func (e *Engine) write(ctx context.Context, r *run, result *RenderResult) (err error) {
	if r.req.Output == "" || r.req.DryRun {
		return nil
	}

	op := telemetry.StartOperation(ctx, string(StageWrite))
	defer func() { op.End(err) }()

	dest, err := e.resolveOutput(op.Ctx, r.req.Output)
	if err != nil {
		return newPipelineError(ErrorClassIO, StageWrite, r.req.Source, "failed to resolve output", err)
	}
	path := dest.Key()
	r.outputKey = path

	current, err := dest.Read(op.Ctx)
	switch {
	case err == nil:
		currentHash := hashText(string(current))
		if e.store != nil {
			state, err := e.store.GetOutput(op.Ctx, path)
			if err == nil && state.Hash != currentHash {
				r.logger.Warn().Str("output", path).Str("last_render", state.LastRenderID).
					Msg("Output was modified since the last render")
				r.event(stores.EventLevelWarning, "output modified since last render", map[string]string{
					"output":         path,
					"expected_hash":  state.Hash,
					"found_hash":     currentHash,
					"last_render_id": state.LastRenderID,
				})
			}
		}
		if currentHash == result.Hash && !r.req.Force {
			result.Unchanged = true
			e.tel.Metrics.RecordUnchanged()
			r.event(stores.EventLevelInfo, "output unchanged", map[string]string{"output": path})
			return nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return newPipelineError(ErrorClassIO, StageWrite, r.req.Source, "failed to read existing output", err)
	}

	if err := dest.Write(op.Ctx, []byte(result.Text)); err != nil {
		return newPipelineError(ErrorClassIO, StageWrite, r.req.Source, "failed to write output", err)
	}

	result.Written = true
	r.event(stores.EventLevelInfo, "output written", map[string]any{"output": path, "bytes": len(result.Text)})
	return nil
}

// record writes the render to the history. History is best effort: a
// failure is logged and never fails the render.
func (e *Engine) record(ctx context.Context, r *run, result *RenderResult, renderErr error, duration time.Duration) {
	if e.store == nil || r.req.DryRun {
		return
	}

	op := telemetry.StartOperation(ctx, string(StageRecord))
	var err error
	defer func() { op.End(err) }()

	render := &stores.Render{
		ID:          r.id,
		Sources:     []string{r.req.Source},
		Format:      string(r.format),
		Output:      r.req.Output,
		Status:      statusOf(renderErr),
		Duration:    duration,
		StartedAt:   r.started,
		CompletedAt: r.started.Add(duration),
	}
	if renderErr != nil {
		class := string(ClassOf(renderErr))
		msg := renderErr.Error()
		render.ErrorClass = &class
		render.Error = &msg
	}
	if result != nil {
		render.OutputHash = result.Hash
		render.OutputBytes = int64(len(result.Text))
	}

	if err = e.store.RecordRender(op.Ctx, render); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record render")
		return
	}

	for i := range r.events {
		if err = e.store.AppendEvent(op.Ctx, &r.events[i]); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record render event")
			return
		}
	}

	if result != nil && r.outputKey != "" && (result.Written || result.Unchanged) {
		err = e.store.UpsertOutput(op.Ctx, &stores.OutputState{
			Path:         r.outputKey,
			Hash:         result.Hash,
			LastRenderID: r.id,
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record output state")
		}
	}
}

func statusOf(err error) stores.RenderStatus {
	switch {
	case err == nil:
		return stores.RenderStatusSucceeded
	case IsPolicyDenied(err):
		return stores.RenderStatusDenied
	default:
		return stores.RenderStatusFailed
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RenderAll renders requests on a bounded worker pool. Results keep the
// order of reqs; a failed render leaves a nil entry and its error is joined
// into the returned error.
func (e *Engine) RenderAll(ctx context.Context, reqs []RenderRequest) ([]*RenderResult, error) {
	results := make([]*RenderResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := e.opts.MaxParallel
	if len(reqs) < workerCount {
		workerCount = len(reqs)
	}

	workQueue := make(chan int, len(reqs))
	for i := range reqs {
		workQueue <- i
	}
	close(workQueue)

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup

	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				if ctx.Err() != nil {
					errs[i] = fmt.Errorf("%s: render skipped: %w", reqs[i].Source, ctx.Err())
					continue
				}

				result, err := e.Render(ctx, reqs[i])
				results[i] = result
				errs[i] = err

				if err != nil && e.opts.FailFast {
					cancel()
				}
			}
		}()
	}

	wg.Wait()

	return results, errors.Join(errs...)
}
