package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/nixser/pkg/config"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// PolicyPaths are reloaded into the policy engine when they change.
	PolicyPaths []string

	// Debounce is passed to the file watchers.
	Debounce time.Duration

	// OnResult is called after every render, successful or not.
	OnResult func(req RenderRequest, result *RenderResult, err error)
}

// Watch renders every request once, then re-renders a request whenever its
// source changes and all requests whenever a policy changes. It blocks
// until ctx is done.
func (e *Engine) Watch(ctx context.Context, reqs []RenderRequest, opts WatchOptions) error {
	if len(reqs) == 0 {
		return fmt.Errorf("nothing to watch")
	}
	if opts.OnResult == nil {
		opts.OnResult = func(RenderRequest, *RenderResult, error) {}
	}

	sources := make([]string, 0, len(reqs))
	bySource := make(map[string][]int)
	for i, req := range reqs {
		abs, err := filepath.Abs(req.Source)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", req.Source, err)
		}
		if _, seen := bySource[abs]; !seen {
			sources = append(sources, abs)
		}
		bySource[abs] = append(bySource[abs], i)
	}

	renderOne := func(i int) {
		result, err := e.Render(ctx, reqs[i])
		opts.OnResult(reqs[i], result, err)
	}
	for i := range reqs {
		renderOne(i)
	}

	sourceChanges := make(chan string, 16)
	policyChanges := make(chan string, 16)

	sourceWatcher := config.NewWatcher(e.logger, opts.Debounce)
	if err := sourceWatcher.Watch(ctx, sources, func(path string) { sourceChanges <- path }); err != nil {
		return err
	}
	defer sourceWatcher.Stop()

	if e.policies != nil && len(opts.PolicyPaths) > 0 {
		policyWatcher := config.NewWatcher(e.logger, opts.Debounce).WithMatcher(isPolicySource)
		if err := policyWatcher.Watch(ctx, opts.PolicyPaths, func(path string) { policyChanges <- path }); err != nil {
			return err
		}
		defer policyWatcher.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case path := <-sourceChanges:
			for _, i := range bySource[path] {
				renderOne(i)
			}

		case path := <-policyChanges:
			e.logger.Info().Str("path", path).Msg("Policies changed, reloading")
			if err := e.policies.ReloadPolicies(ctx, opts.PolicyPaths); err != nil {
				e.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
				continue
			}
			for i := range reqs {
				renderOne(i)
			}
		}
	}
}

func isPolicySource(name string) bool {
	switch filepath.Ext(name) {
	case ".rego":
		return !strings.HasSuffix(name, "_test.rego")
	case ".json":
		return true
	}
	return false
}
