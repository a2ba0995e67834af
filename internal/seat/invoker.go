package seat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout    = 45 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 1000 * time.Millisecond
	DefaultMaxDelay   = 5000 * time.Millisecond

	probeTimeout = 2 * time.Second
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RetryOnTimeout also retries attempts that hit the per-seat deadline.
	// Off by default: a timed-out seat has already consumed its budget.
	RetryOnTimeout bool
}

type InvokerOptions struct {
	Transport Transport
	Resolver  *Resolver
	Prober    *Prober
	Policy    RetryPolicy
	Timeout   time.Duration
	// Sleep waits between attempts; it must return early with ctx.Err()
	// when ctx is done.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Invoker is the retry engine wrapped around a Transport.
type Invoker struct {
	transport Transport
	resolver  *Resolver
	prober    *Prober
	policy    RetryPolicy
	timeout   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger

	probedMu sync.Mutex
	probed   map[ID]bool
}

func NewInvoker(opts InvokerOptions) *Invoker {
	policy := opts.Policy
	if policy.MaxRetries == 0 {
		policy.MaxRetries = DefaultMaxRetries
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(ResolverOptions{})
	}
	prober := opts.Prober
	if prober == nil && opts.Transport != nil {
		prober = NewProber(opts.Transport, 0)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		transport: opts.Transport,
		resolver:  resolver,
		prober:    prober,
		policy:    policy,
		timeout:   timeout,
		sleep:     sleep,
		logger:    logger,
		probed:    make(map[ID]bool),
	}
}

func (i *Invoker) Resolver() *Resolver {
	return i.resolver
}

func (i *Invoker) Prober() *Prober {
	return i.prober
}

func Placeholder(id ID) string {
	return fmt.Sprintf("[%s expert unavailable]", id)
}

func IsPlaceholder(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, "[") && strings.HasSuffix(text, " expert unavailable]")
}

// Backoff returns the wait before retry n (1-based): BaseDelay doubled per
// retry, capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := p.BaseDelay
	for k := 1; k < n; k++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Invoke runs a helper seat call with timeout and retries. It never fails:
// when every attempt fails the response is the seat placeholder and Success
// is false. A negative inv.MaxRetries disables retries; zero uses the policy.
func (i *Invoker) Invoke(ctx context.Context, inv Invocation) Result {
	start := time.Now()
	model := i.resolver.Resolve(inv.Seat, inv.ModelOverride)
	res := Result{Seat: inv.Seat, Model: model}

	maxRetries := i.policy.MaxRetries
	switch {
	case inv.MaxRetries > 0:
		maxRetries = inv.MaxRetries
	case inv.MaxRetries < 0:
		maxRetries = 0
	}

	i.probeFirstUse(ctx, inv.Seat, model)

	for attempt := 0; ; attempt++ {
		out := i.attempt(ctx, inv.Seat, model, inv.Prompt, i.timeoutFor(inv))
		if out.Kind == OutcomeOK {
			res.Response = out.Text
			res.Success = true
			res.Err = nil
			break
		}
		res.Err = out.Err
		retryable := i.retryable(out.Kind)
		i.logger.Warn("seat attempt failed",
			"seat", inv.Seat,
			"model", model,
			"attempt", attempt+1,
			"outcome", out.Kind.String(),
			"retryable", retryable,
			"error", out.Err,
		)
		if !retryable || attempt >= maxRetries {
			break
		}
		delay := i.policy.Backoff(attempt + 1)
		res.Delays = append(res.Delays, delay)
		res.Retries++
		if err := i.sleep(ctx, delay); err != nil {
			res.Err = err
			break
		}
	}

	if !res.Success {
		res.Response = Placeholder(inv.Seat)
	}
	res.Duration = time.Since(start)
	return res
}

// Call performs exactly one bounded attempt and reports failures as typed
// errors. The synthesis call and the fallback responders use it.
func (i *Invoker) Call(ctx context.Context, inv Invocation) (string, error) {
	model := i.resolver.Resolve(inv.Seat, inv.ModelOverride)
	i.probeFirstUse(ctx, inv.Seat, model)
	out := i.attempt(ctx, inv.Seat, model, inv.Prompt, i.timeoutFor(inv))
	if out.Kind == OutcomeOK {
		return out.Text, nil
	}
	return "", out.Err
}

func (i *Invoker) timeoutFor(inv Invocation) time.Duration {
	if inv.Timeout > 0 {
		return inv.Timeout
	}
	return i.timeout
}

func (i *Invoker) retryable(kind OutcomeKind) bool {
	switch kind {
	case OutcomeRequest:
		return true
	case OutcomeTimeout:
		return i.policy.RetryOnTimeout
	default:
		return false
	}
}

func (i *Invoker) attempt(ctx context.Context, id ID, model, prompt string, timeout time.Duration) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Kind: OutcomeCanceled, Err: err}
	}
	if i.transport == nil {
		return Outcome{Kind: OutcomeRequest, Err: &RequestError{Seat: id, Err: errors.New("no transport configured")}}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := i.transport.Generate(attemptCtx, model, prompt)
	if err == nil {
		return Outcome{Kind: OutcomeOK, Text: text}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Kind: OutcomeCanceled, Err: ctxErr}
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeTimeout, Err: &TimeoutError{Seat: id, Timeout: timeout}}
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		tagged := *reqErr
		tagged.Seat = id
		return Outcome{Kind: OutcomeRequest, Err: &tagged}
	}
	return Outcome{Kind: OutcomeRequest, Err: &RequestError{Seat: id, Err: err}}
}

// probeFirstUse checks model availability the first time a seat is used. The
// result is only logged; generation is attempted either way.
func (i *Invoker) probeFirstUse(ctx context.Context, id ID, model string) {
	if i.prober == nil {
		return
	}
	i.probedMu.Lock()
	if i.probed[id] {
		i.probedMu.Unlock()
		return
	}
	i.probed[id] = true
	i.probedMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	ok, err := i.prober.Probe(probeCtx, model)
	switch {
	case err != nil:
		i.logger.Warn("seat probe failed", "seat", id, "model", model, "error", err)
	case !ok:
		i.logger.Warn("seat probe negative", "seat", id, "error", &UnavailableError{Seat: id, Model: model})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
