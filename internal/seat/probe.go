package seat

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultProbeTTL    = 60 * time.Second
	defaultNegativeTTL = 5 * time.Second
)

// Prober answers "is this model loaded on the host" from a cached listing of
// the host's models. A listing is kept for ttl; a failure reported by the
// host is kept for negativeTTL. Failures caused by the caller's context are
// never kept.
type Prober struct {
	transport   Transport
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time

	mu        sync.Mutex
	models    map[string]struct{}
	fetchedAt time.Time
	lastErr   error
}

func NewProber(transport Transport, ttl time.Duration) *Prober {
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	return &Prober{transport: transport, ttl: ttl, negativeTTL: min(defaultNegativeTTL, ttl), now: time.Now}
}

func (p *Prober) Probe(ctx context.Context, model string) (bool, error) {
	if p == nil || p.transport == nil {
		return true, nil
	}
	models, err := p.listing(ctx)
	if err != nil {
		return false, err
	}
	return hasModel(models, model), nil
}

// Invalidate drops the cached listing so the next probe hits the host.
func (p *Prober) Invalidate() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.models = nil
	p.fetchedAt = time.Time{}
	p.lastErr = nil
	p.mu.Unlock()
}

func (p *Prober) listing(ctx context.Context) (map[string]struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() {
		age := p.now().Sub(p.fetchedAt)
		if p.lastErr == nil && age < p.ttl {
			return p.models, nil
		}
		if p.lastErr != nil && age < p.negativeTTL {
			return nil, p.lastErr
		}
	}

	names, err := p.transport.ListModels(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; says nothing about the host.
			return nil, err
		}
		p.models, p.fetchedAt, p.lastErr = nil, p.now(), err
		return nil, err
	}
	models := make(map[string]struct{}, len(names))
	for _, name := range names {
		models[normalizeModel(name)] = struct{}{}
	}
	p.models, p.fetchedAt, p.lastErr = models, p.now(), nil
	return models, nil
}

func hasModel(models map[string]struct{}, model string) bool {
	_, ok := models[normalizeModel(model)]
	return ok
}

func normalizeModel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	return name
}
