// Package orchestrator turns one user message into one reply: it prepares
// context, fans out to the helper seats, gates on triad health, runs the
// synthesis call and post-filters the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/chorus/internal/blueprint"
	"github.com/user/chorus/internal/memory"
	"github.com/user/chorus/internal/observability"
	"github.com/user/chorus/internal/persona"
	"github.com/user/chorus/internal/seat"
	"github.com/user/chorus/internal/tone"
	"github.com/user/chorus/internal/triad"
)

const (
	defaultRequestTimeout   = 90 * time.Second
	defaultSynthesisTimeout = 60 * time.Second
	defaultSummaryTimeout   = 10 * time.Second
	defaultFallbackTimeout  = 20 * time.Second
)

// StaticApology is returned when even the fallback seat fails.
const StaticApology = "I'm sorry, I couldn't put a proper answer together just now. Please try again in a moment."

type Options struct {
	Invoker    *seat.Invoker
	Anchors    *persona.AnchorBuilder
	Triad      *triad.Checker
	Moods      *tone.MoodStore
	History    HistorySource
	Violations persona.ViolationSink
	Metrics    *observability.Registry
	Logger     *slog.Logger

	DefaultMode Mode
	// SynthesisSeat answers every reply; FastSeat serves summaries and the
	// error fallback. Both default to the smalltalk seat.
	SynthesisSeat seat.ID
	FastSeat      seat.ID

	RequestTimeout   time.Duration
	SeatTimeout      time.Duration
	SynthesisTimeout time.Duration
	SummaryTimeout   time.Duration
	FallbackTimeout  time.Duration

	HistoryLimit  int
	ContextBudget int
	Now           func() time.Time
}

type Engine struct {
	invoker    *seat.Invoker
	anchors    *persona.AnchorBuilder
	triad      *triad.Checker
	moods      *tone.MoodStore
	history    *historyStore
	violations persona.ViolationSink
	metrics    *observability.Registry
	logger     *slog.Logger

	defaultMode   Mode
	synthesisSeat seat.ID
	fastSeat      seat.ID

	requestTimeout   time.Duration
	seatTimeout      time.Duration
	synthesisTimeout time.Duration
	summaryTimeout   time.Duration
	fallbackTimeout  time.Duration
	contextBudget    int
	now              func() time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Invoker == nil {
		return nil, errors.New("seat invoker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	anchors := opts.Anchors
	if anchors == nil {
		anchors = persona.NewAnchorBuilder(nil, logger)
	}
	checker := opts.Triad
	if checker == nil {
		var prober triad.Prober
		if p := opts.Invoker.Prober(); p != nil {
			prober = p
		}
		checker = triad.NewChecker(prober, opts.Invoker.Resolver(), logger)
	}
	moods := opts.Moods
	if moods == nil {
		moods = tone.NewMoodStore()
	}
	mode := opts.DefaultMode
	if _, ok := ParseMode(string(mode)); !ok {
		mode = ModeBranded
	}
	synthesisSeat := opts.SynthesisSeat
	if !synthesisSeat.Valid() {
		synthesisSeat = seat.Smalltalk
	}
	fastSeat := opts.FastSeat
	if !fastSeat.Valid() {
		fastSeat = seat.Smalltalk
	}
	budget := opts.ContextBudget
	if budget <= 0 {
		budget = defaultContextBudget
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		invoker:          opts.Invoker,
		anchors:          anchors,
		triad:            checker,
		moods:            moods,
		history:          newHistoryStore(opts.HistoryLimit, opts.History, logger),
		violations:       opts.Violations,
		metrics:          opts.Metrics,
		logger:           logger,
		defaultMode:      mode,
		synthesisSeat:    synthesisSeat,
		fastSeat:         fastSeat,
		requestTimeout:   durationOr(opts.RequestTimeout, defaultRequestTimeout),
		seatTimeout:      durationOr(opts.SeatTimeout, seat.DefaultTimeout),
		synthesisTimeout: durationOr(opts.SynthesisTimeout, defaultSynthesisTimeout),
		summaryTimeout:   durationOr(opts.SummaryTimeout, defaultSummaryTimeout),
		fallbackTimeout:  durationOr(opts.FallbackTimeout, defaultFallbackTimeout),
		contextBudget:    budget,
		now:              now,
	}, nil
}

// exchange is the per-request working state.
type exchange struct {
	req      Request
	logger   *slog.Logger
	metrics  *ProcessingMetrics
	identity persona.Identity
	anchor   string
	strategy Strategy
	bp       blueprint.Blueprint
	pc       promptContext
	status   *triad.Status
}

// Process runs the full pipeline for one message. Pipeline failures never
// surface as errors: the reply degrades to the reduced responder, the
// fallback seat or the static apology. An error is returned only for an
// invalid request.
func (e *Engine) Process(ctx context.Context, req Request) (*Response, error) {
	if e == nil {
		return nil, errors.New("engine unavailable")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, errors.New("message is required")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	req.ConstructID = strings.ToLower(strings.TrimSpace(req.ConstructID))
	if req.Mode != "" {
		mode, ok := ParseMode(string(req.Mode))
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", req.Mode)
		}
		req.Mode = mode
	}

	requestID := uuid.NewString()
	start := e.now()
	metrics := &ProcessingMetrics{RequestID: requestID, StartTime: start.UTC()}
	ex := &exchange{
		req:     req,
		metrics: metrics,
		logger: e.logger.With(
			"request_id", requestID,
			"user", req.UserID,
			"construct", req.ConstructID,
		),
	}

	ctx, span := observability.StartSpan(ctx, "chorus.process",
		attribute.String("chorus.request_id", requestID),
		attribute.String("chorus.construct", req.ConstructID),
	)
	defer span.End()
	e.metrics.AddGauge(observability.ActiveRequests, nil, 1)
	defer e.metrics.AddGauge(observability.ActiveRequests, nil, -1)

	runCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	text, route, err := e.run(runCtx, ex)
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if deadlineHit {
			err = &SynthesisTimeoutError{Timeout: e.requestTimeout}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ex.logger.Error("synthesis failed, using fallback", "error", err)
		metrics.Error = err.Error()
		text = e.errorFallback(ctx, ex)
		route = RouteFallback
	}

	metrics.Route = route
	metrics.ProcessingTimeMs = e.now().Sub(start).Milliseconds()
	e.history.Append(req.UserID, req.ThreadID, Turn{Role: "assistant", Content: text, At: e.now().UTC()})
	e.moods.Update(req.UserID, text)

	e.metrics.IncCounter(observability.RequestsTotal, map[string]string{"route": string(route)}, 1)
	e.metrics.ObserveDuration(observability.RequestDuration, map[string]string{"route": string(route)}, e.now().Sub(start))
	span.SetAttributes(attribute.String("chorus.route", string(route)))
	ex.logger.Info("request complete",
		"route", route,
		"mode", ex.strategy.Mode(),
		"duration_ms", metrics.ProcessingTimeMs,
		"retries", metrics.RetryCount,
		"failed_seats", metrics.FailedSeats,
		"fallback", metrics.FallbackUsed,
	)

	return &Response{
		RequestID: requestID,
		Text:      text,
		Route:     route,
		Mode:      ex.strategy.Mode(),
		Blueprint: ex.bp,
		Metrics:   *metrics,
		Triad:     ex.status,
	}, nil
}

func (e *Engine) run(ctx context.Context, ex *exchange) (string, Route, error) {
	req := ex.req

	// ContextPrep
	ex.identity = e.anchors.Identity(req.ConstructID)
	ex.anchor = persona.RenderAnchor(ex.identity)
	ex.strategy = StrategyFor(e.resolveMode(req.Mode, ex.identity.Mode))

	prior := e.history.Record(ctx, req.UserID, req.ThreadID, req.Message, e.now().UTC())
	ex.metrics.HistoryLength = len(prior)

	toneHint, length := e.moods.Resolve(req.UserID, req.Message)
	overrides := blueprint.Overrides{Tone: toneHint, Length: length}
	if req.Overrides.Tone != "" {
		overrides.Tone = req.Overrides.Tone
	}
	if req.Overrides.Length != "" {
		overrides.Length = req.Overrides.Length
	}
	ex.bp = blueprint.Select(req.Message, len(prior) > 0, overrides)

	ex.pc = promptContext{history: prior, digest: memory.Format(req.Memory), message: req.Message}
	if ex.pc.prune(ex.anchor, e.contextBudget) {
		ex.metrics.MemoryPruned = true
		e.metrics.IncCounter(observability.ContextPrunedTotal, nil, 1)
		ex.logger.Debug("context pruned", "history_kept", len(ex.pc.history), "digest_kept", ex.pc.digest != "")
	}
	ex.metrics.ContextLength = ex.pc.size(ex.anchor)

	if !ex.bp.UseHelpers {
		return e.respondDirect(ctx, ex)
	}

	var summary string
	if isComplex(req.Message) {
		summary = e.summarize(ctx, ex)
	}

	// TriadPreCheck
	pre := e.triad.PreCheck(ctx, req.Message, req.ConstructID, req.ModelOverrides)
	ex.status = &pre
	if err := e.triad.Evaluate(pre, triad.PhasePre); err != nil {
		e.metrics.IncCounter(observability.TriadFailuresTotal, map[string]string{"phase": string(triad.PhasePre)}, 1)
		return e.respondReduced(ctx, ex, pre, nil, err)
	}

	// SeatFanOut
	results := e.fanOut(ctx, ex, summary)

	// TriadPostCheck
	byID := make(map[seat.ID]seat.Result, len(results))
	for _, res := range results {
		byID[res.Seat] = res
	}
	post := triad.PostCheck(byID)
	ex.status = &post
	ex.metrics.FailedSeats = post.Failed
	if err := e.triad.Evaluate(post, triad.PhasePost); err != nil {
		e.metrics.IncCounter(observability.TriadFailuresTotal, map[string]string{"phase": string(triad.PhasePost)}, 1)
		return e.respondReduced(ctx, ex, post, results, err)
	}

	// SynthesisCall
	labels := make(map[seat.ID]string, len(seat.HelperOrder))
	for _, id := range seat.HelperOrder {
		labels[id] = e.invoker.Resolver().Role(id)
	}
	prompt := buildSynthesisPrompt(synthesisInput{
		anchor:   ex.anchor,
		identity: ex.identity,
		strategy: ex.strategy,
		bp:       ex.bp,
		pc:       ex.pc,
		summary:  summary,
		req:      req,
		labels:   labels,
		results:  results,
	})
	raw, err := e.call(ctx, ex, "chorus.synthesis", e.synthesisSeat, prompt, e.synthesisTimeout)
	if err != nil {
		return "", RouteSynthesis, fmt.Errorf("synthesis call: %w", err)
	}

	// PostFilter
	return e.postFilter(ctx, ex, raw), RouteSynthesis, nil
}

func (e *Engine) resolveMode(requested Mode, constructMode string) Mode {
	if requested != "" {
		return requested
	}
	if mode, ok := ParseMode(constructMode); ok {
		return mode
	}
	return e.defaultMode
}

func (e *Engine) respondDirect(ctx context.Context, ex *exchange) (string, Route, error) {
	route := RouteSmalltalk
	if ex.bp.Format == blueprint.Greeting {
		route = RouteGreeting
	}
	prompt := buildDirectPrompt(ex.anchor, ex.identity, ex.strategy, ex.bp, ex.pc, ex.req)
	raw, err := e.call(ctx, ex, "chorus."+string(route), e.synthesisSeat, prompt, e.synthesisTimeout)
	if err != nil {
		return "", route, fmt.Errorf("%s reply: %w", route, err)
	}
	return e.postFilter(ctx, ex, raw), route, nil
}

// respondReduced answers on a single healthy seat when the triad is down.
func (e *Engine) respondReduced(ctx context.Context, ex *exchange, status triad.Status, results []seat.Result, cause error) (string, Route, error) {
	ex.metrics.FailedSeats = status.Failed
	responder := e.synthesisSeat
	if len(status.Active) > 0 && !containsSeat(status.Active, responder) {
		responder = status.Active[0]
	}
	survivors := make([]seat.Result, 0, len(results))
	for _, res := range results {
		if res.Success && !seat.IsPlaceholder(res.Response) {
			survivors = append(survivors, res)
		}
	}
	prompt := buildReducedPrompt(ex.anchor, ex.identity, ex.bp, ex.pc, ex.req, survivors)
	raw, err := e.call(ctx, ex, "chorus.reduced", responder, prompt, e.synthesisTimeout)
	if err != nil {
		return "", RouteDegraded, fmt.Errorf("reduced responder after %v: %w", cause, err)
	}
	return e.postFilter(ctx, ex, raw), RouteDegraded, nil
}

func (e *Engine) summarize(ctx context.Context, ex *exchange) string {
	text, err := e.call(ctx, ex, "chorus.summary", e.fastSeat, buildSummaryPrompt(ex.req.Message, ex.pc.digest), e.summaryTimeout)
	if err != nil {
		ex.logger.Debug("context summary skipped", "error", err)
		return ""
	}
	ex.metrics.SummaryUsed = true
	return memory.Truncate(text, 400)
}

// fanOut invokes every helper seat concurrently and returns the results in
// seat.HelperOrder regardless of completion order.
func (e *Engine) fanOut(ctx context.Context, ex *exchange, summary string) []seat.Result {
	ctx, span := observability.StartSpan(ctx, "chorus.fanout")
	defer span.End()

	results := make([]seat.Result, len(seat.HelperOrder))
	var wg sync.WaitGroup
	for i, id := range seat.HelperOrder {
		prompt := buildHelperPrompt(id, e.invoker.Resolver().Role(id), ex.identity.Name, ex.req, ex.pc, summary)
		wg.Add(1)
		go func(i int, id seat.ID, prompt string) {
			defer wg.Done()
			seatCtx, seatSpan := observability.StartSpan(ctx, "chorus.seat", attribute.String("chorus.seat", string(id)))
			defer seatSpan.End()
			res := e.invoker.Invoke(seatCtx, seat.Invocation{
				Seat:          id,
				Prompt:        prompt,
				ModelOverride: ex.req.ModelOverrides[id],
				Timeout:       e.seatTimeout,
			})
			if !res.Success {
				seatSpan.SetStatus(codes.Error, "seat unavailable")
			}
			results[i] = res
		}(i, id, prompt)
	}
	wg.Wait()

	ex.metrics.SeatTimingsMs = make(map[seat.ID]int64, len(results))
	ex.metrics.Models = make(map[seat.ID]string, len(results))
	for _, res := range results {
		ex.metrics.SeatTimingsMs[res.Seat] = res.Duration.Milliseconds()
		ex.metrics.Models[res.Seat] = res.Model
		ex.metrics.RetryCount += res.Retries
		for _, d := range res.Delays {
			ex.metrics.RetryDelays = append(ex.metrics.RetryDelays, d.Milliseconds())
		}
		outcome := "ok"
		if !res.Success {
			outcome = "failed"
		}
		labels := map[string]string{"seat": string(res.Seat), "outcome": outcome}
		e.metrics.IncCounter(observability.SeatCallsTotal, labels, 1)
		e.metrics.IncCounter(observability.SeatRetriesTotal, map[string]string{"seat": string(res.Seat)}, float64(res.Retries))
		e.metrics.ObserveDuration(observability.SeatDuration, map[string]string{"seat": string(res.Seat)}, res.Duration)
	}
	return results
}

func (e *Engine) call(ctx context.Context, ex *exchange, spanName string, id seat.ID, prompt string, timeout time.Duration) (string, error) {
	ctx, span := observability.StartSpan(ctx, spanName, attribute.String("chorus.seat", string(id)))
	defer span.End()
	text, err := e.invoker.Call(ctx, seat.Invocation{
		Seat:          id,
		Prompt:        prompt,
		ModelOverride: ex.req.ModelOverrides[id],
		Timeout:       timeout,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// postFilter enforces identity, section layout and length on a raw reply.
func (e *Engine) postFilter(ctx context.Context, ex *exchange, raw string) string {
	name := ex.identity.Name
	if ex.req.Memory.HasCharacter() {
		name = ex.req.Memory.Character.Name
	}
	text, violations := persona.EnforceIdentity(strings.TrimSpace(raw), name)
	for _, v := range violations {
		v.ConstructID = ex.identity.ID
		v.UserID = ex.req.UserID
		ex.logger.Warn("persona violation", "pattern", v.Pattern, "excerpt", v.Excerpt)
		e.metrics.IncCounter(observability.ViolationsTotal, map[string]string{"construct": ex.identity.ID, "pattern": v.Pattern}, 1)
		if e.violations != nil {
			if err := e.violations.RecordViolation(context.WithoutCancel(ctx), v); err != nil {
				ex.logger.Warn("record persona violation failed", "error", err)
			}
		}
	}
	ex.metrics.Violations += len(violations)

	if len(ex.bp.Sections) > 0 {
		text = persona.ApplySections(text, ex.bp.Sections)
	}
	if ex.bp.MaxSentences > 0 && !tone.WantsDetail(ex.req.Message) {
		text = persona.EnforceLength(text, ex.bp.MaxSentences)
	}
	return text
}

// errorFallback makes one bounded call on the fast seat, detached from the
// caller's cancellation, and falls back to StaticApology when that fails.
func (e *Engine) errorFallback(ctx context.Context, ex *exchange) string {
	ex.metrics.FallbackUsed = true
	e.metrics.IncCounter(observability.FallbacksTotal, nil, 1)
	if ex.strategy == nil {
		ex.strategy = StrategyFor(e.defaultMode)
	}
	if ex.anchor == "" {
		ex.identity = e.anchors.Identity(ex.req.ConstructID)
		ex.anchor = persona.RenderAnchor(ex.identity)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.fallbackTimeout)
	defer cancel()
	raw, err := e.call(fctx, ex, "chorus.fallback", e.fastSeat, buildFallbackPrompt(ex.anchor, ex.identity, ex.req), e.fallbackTimeout)
	if err != nil {
		ex.logger.Error("fallback seat failed, returning static apology", "error", err)
		return StaticApology
	}
	text, _ := persona.EnforceIdentity(strings.TrimSpace(raw), ex.identity.Name)
	return persona.EnforceLength(text, 3)
}

func (e *Engine) MoodSnapshot(userID string) tone.MoodSnapshot {
	return e.moods.Get(userID)
}

func (e *Engine) ClearMood(userID string) {
	e.moods.Clear(userID)
}

func (e *Engine) SeatDescriptors() []seat.Descriptor {
	return e.invoker.Resolver().Descriptors()
}

// TriadPreCheck drops the cached model listing and reports current helper
// availability without processing a message.
func (e *Engine) TriadPreCheck(ctx context.Context) triad.Status {
	e.invoker.Prober().Invalidate()
	return e.triad.PreCheck(ctx, "", "", nil)
}

func containsSeat(ids []seat.ID, id seat.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
