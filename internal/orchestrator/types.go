package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/chorus/internal/blueprint"
	"github.com/user/chorus/internal/memory"
	"github.com/user/chorus/internal/seat"
	"github.com/user/chorus/internal/triad"
)

type Route string

const (
	RouteGreeting  Route = "greeting"
	RouteSmalltalk Route = "smalltalk"
	RouteSynthesis Route = "synthesis"
	// RouteDegraded is the reduced responder used when the triad is down.
	RouteDegraded Route = "degraded"
	RouteFallback Route = "fallback"
)

type Request struct {
	UserID      string          `json:"user_id"`
	ConstructID string          `json:"construct_id"`
	ThreadID    string          `json:"thread_id,omitempty"`
	Message     string          `json:"message"`
	Memory      *memory.Context `json:"memory,omitempty"`
	// Mode overrides the construct's mode when set.
	Mode           Mode                `json:"mode,omitempty"`
	ModelOverrides map[seat.ID]string  `json:"model_overrides,omitempty"`
	Overrides      blueprint.Overrides `json:"overrides,omitempty"`
}

type Response struct {
	RequestID string              `json:"request_id"`
	Text      string              `json:"text"`
	Route     Route               `json:"route"`
	Mode      Mode                `json:"mode"`
	Blueprint blueprint.Blueprint `json:"blueprint"`
	Metrics   ProcessingMetrics   `json:"metrics"`
	// Triad is the last computed helper status; nil when no helpers ran.
	Triad *triad.Status `json:"triad,omitempty"`
}

// ProcessingMetrics is owned by one request and filled in as it moves
// through the pipeline.
type ProcessingMetrics struct {
	RequestID        string             `json:"request_id"`
	StartTime        time.Time          `json:"start_time"`
	ContextLength    int                `json:"context_length"`
	HistoryLength    int                `json:"history_length"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	FallbackUsed     bool               `json:"fallback_used"`
	MemoryPruned     bool               `json:"memory_pruned"`
	RetryCount       int                `json:"retry_count,omitempty"`
	RetryDelays      []int64            `json:"retry_delays,omitempty"`
	FailedSeats      []seat.ID          `json:"failed_seats,omitempty"`
	SeatTimingsMs    map[seat.ID]int64  `json:"seat_timings_ms,omitempty"`
	SummaryUsed      bool               `json:"summary_used,omitempty"`
	Route            Route              `json:"route"`
	Error            string             `json:"error,omitempty"`
	Violations       int                `json:"violations,omitempty"`
	Models           map[seat.ID]string `json:"models,omitempty"`
}

// SynthesisTimeoutError reports that the whole pipeline ran past its
// deadline.
type SynthesisTimeoutError struct {
	Timeout time.Duration
}

func (e *SynthesisTimeoutError) Error() string {
	return fmt.Sprintf("synthesis timed out after %s", e.Timeout)
}

type Mode string

const (
	ModeBranded Mode = "branded"
	ModeLinear  Mode = "linear"
)

func ParseMode(raw string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeBranded, ModeLinear:
		return m, true
	default:
		return "", false
	}
}
