package pipelines

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

var (
	ErrAnalyzeUnavailable = errors.New("local analysis pipeline is not installed")
	ErrRenderUnavailable  = errors.New("local render pipeline is not installed")
)

type doctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor caches doctor probe results so analyze and render requests do not
// spawn a probe subprocess each time.
type CachedDoctor struct {
	runner doctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner doctorRunner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe without running one; nil before the first probe.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new doctor probe. A failed probe falls back to the stale cache.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// RequireAnalyze fails fast when the installed pipelines cannot analyze.
func (d *CachedDoctor) RequireAnalyze(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	if !caps.HasAnalyze {
		return ErrAnalyzeUnavailable
	}
	return nil
}

func (d *CachedDoctor) RequireRender(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	if !caps.HasRender {
		return ErrRenderUnavailable
	}
	return nil
}
