// Package triad gates normal synthesis on the health of the three helper
// seats.
package triad

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/chorus/internal/seat"
)

type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// MaxFailed is the number of unavailable seats tolerated before a request is
// rerouted to the reduced responder.
const MaxFailed = 1

const defaultProbeTimeout = 2 * time.Second

type Status struct {
	Active []seat.ID `json:"active"`
	Failed []seat.ID `json:"failed"`
}

func (s Status) Healthy() bool {
	return len(s.Failed) <= MaxFailed
}

func (s Status) Degraded() bool {
	return len(s.Failed) == 1
}

type FailureError struct {
	Phase  Phase
	Failed []seat.ID
}

func (e *FailureError) Error() string {
	names := make([]string, len(e.Failed))
	for i, id := range e.Failed {
		names[i] = string(id)
	}
	return fmt.Sprintf("triad failure (%s-check): %d of %d seats unavailable: %s",
		e.Phase, len(e.Failed), len(seat.HelperOrder), strings.Join(names, ", "))
}

// Prober is the availability source used by the pre-check.
type Prober interface {
	Probe(ctx context.Context, model string) (bool, error)
}

type Checker struct {
	prober       Prober
	resolver     *seat.Resolver
	probeTimeout time.Duration
	logger       *slog.Logger
}

func NewChecker(prober Prober, resolver *seat.Resolver, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = seat.NewResolver(seat.ResolverOptions{})
	}
	return &Checker{prober: prober, resolver: resolver, probeTimeout: defaultProbeTimeout, logger: logger}
}

// PreCheck probes each helper seat's model concurrently. A probe error or a
// model missing from the host counts as failed. Without a prober every seat
// is reported active.
func (c *Checker) PreCheck(ctx context.Context, message, constructID string, overrides map[seat.ID]string) Status {
	ok := make([]bool, len(seat.HelperOrder))
	if c.prober == nil {
		for i := range ok {
			ok[i] = true
		}
		return build(ok)
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, id := range seat.HelperOrder {
		wg.Add(1)
		go func(i int, id seat.ID) {
			defer wg.Done()
			model := c.resolver.Resolve(id, overrides[id])
			available, err := c.prober.Probe(probeCtx, model)
			if err != nil {
				c.logger.Debug("triad probe failed", "seat", id, "model", model, "construct", constructID, "error", err)
			}
			ok[i] = err == nil && available
		}(i, id)
	}
	wg.Wait()
	return build(ok)
}

// PostCheck derives status from the fan-out results: a placeholder response
// marks its seat as failed.
func PostCheck(results map[seat.ID]seat.Result) Status {
	ok := make([]bool, len(seat.HelperOrder))
	for i, id := range seat.HelperOrder {
		res, found := results[id]
		ok[i] = found && res.Success && !seat.IsPlaceholder(res.Response)
	}
	return build(ok)
}

// Evaluate logs the status and returns a *FailureError when more than
// MaxFailed seats are down.
func (c *Checker) Evaluate(status Status, phase Phase) error {
	switch {
	case !status.Healthy():
		err := &FailureError{Phase: phase, Failed: status.Failed}
		c.logger.Error("triad failure, rerouting to reduced responder", "phase", phase, "failed", status.Failed, "error", err)
		return err
	case status.Degraded():
		c.logger.Warn("triad degraded", "phase", phase, "failed", status.Failed)
	}
	return nil
}

func build(ok []bool) Status {
	s := Status{Active: []seat.ID{}, Failed: []seat.ID{}}
	for i, id := range seat.HelperOrder {
		if ok[i] {
			s.Active = append(s.Active, id)
		} else {
			s.Failed = append(s.Failed, id)
		}
	}
	return s
}
