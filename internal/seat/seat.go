// Package seat dispatches prompts to the named model seats that back the
// synthesis engine: it resolves seat names to models, talks to the model host
// and bounds every call with a deadline and a retry budget.
package seat

import (
	"context"
	"strings"
	"time"
)

type ID string

const (
	Coding    ID = "coding"
	Creative  ID = "creative"
	Smalltalk ID = "smalltalk"
)

// HelperOrder is the fixed order helper outputs are assembled in, independent
// of completion order.
var HelperOrder = []ID{Coding, Creative, Smalltalk}

func (id ID) String() string {
	return string(id)
}

func (id ID) Valid() bool {
	switch id {
	case Coding, Creative, Smalltalk:
		return true
	default:
		return false
	}
}

func ParseID(raw string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	return id, id.Valid()
}

type Descriptor struct {
	ID    ID     `json:"id"`
	Model string `json:"model"`
	Role  string `json:"role,omitempty"`
}

type Invocation struct {
	Seat          ID
	Prompt        string
	ModelOverride string
	Timeout       time.Duration
	MaxRetries    int
}

type Result struct {
	Seat     ID              `json:"seat"`
	Model    string          `json:"model"`
	Response string          `json:"response"`
	Success  bool            `json:"success"`
	Retries  int             `json:"retries"`
	Delays   []time.Duration `json:"delays,omitempty"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
}

// Transport sends a single prompt to a model host. Implementations must honor
// ctx cancellation so a fired deadline releases the underlying request.
type Transport interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}
