// Package persona builds the identity anchor that leads every synthesis
// prompt and post-filters replies so they stay in character and in shape.
package persona

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/chorus/internal/registry"
)

const (
	AnchorHeader = "=== IDENTITY ANCHOR ==="
	AnchorFooter = "=== END IDENTITY ANCHOR ==="
)

// Lookup resolves construct ids. *registry.Registry satisfies it.
type Lookup interface {
	Get(id string) *registry.Construct
}

// Identity is the resolved identity of a construct for one request.
type Identity struct {
	ID     string
	Name   string
	Origin string
	Mode   string
	Voice  string
	Prompt string
	Traits []string
	// Known is false when the construct is not registered and the identity
	// was derived from its id.
	Known bool
}

type AnchorBuilder struct {
	lookup Lookup
	logger *slog.Logger
}

func NewAnchorBuilder(lookup Lookup, logger *slog.Logger) *AnchorBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnchorBuilder{lookup: lookup, logger: logger}
}

func (b *AnchorBuilder) Identity(constructID string) Identity {
	id := strings.ToLower(strings.TrimSpace(constructID))
	var c *registry.Construct
	if b != nil && b.lookup != nil && id != "" {
		c = b.lookup.Get(id)
	}
	if c == nil {
		if b != nil {
			b.logger.Warn("unknown construct, deriving identity from id", "construct", constructID)
		}
		fallback := &registry.Construct{ID: id}
		if id == "" {
			fallback.ID = "construct"
		}
		return Identity{ID: fallback.ID, Name: fallback.DisplayName(), Origin: "this workspace"}
	}
	origin := strings.TrimSpace(c.Origin)
	if origin == "" {
		origin = "this workspace"
	}
	return Identity{
		ID:     c.ID,
		Name:   c.DisplayName(),
		Origin: origin,
		Mode:   c.Mode,
		Voice:  strings.TrimSpace(c.Voice),
		Prompt: strings.TrimSpace(c.Prompt),
		Traits: append([]string(nil), c.Traits...),
		Known:  true,
	}
}

// Build returns the anchor text for constructID. Callers place it first in
// every synthesis prompt and never shorten it.
func (b *AnchorBuilder) Build(constructID string) string {
	return RenderAnchor(b.Identity(constructID))
}

func RenderAnchor(id Identity) string {
	var sb strings.Builder
	sb.WriteString(AnchorHeader)
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "You are %s, from %s.\n", id.Name, id.Origin)
	if id.Prompt != "" {
		sb.WriteString(id.Prompt)
		sb.WriteByte('\n')
	}
	if len(id.Traits) > 0 {
		fmt.Fprintf(&sb, "Core traits: %s.\n", strings.Join(id.Traits, ", "))
	}
	fmt.Fprintf(&sb, "You are %s. Never claim to be an AI, an assistant or a language model, and never break character.\n", id.Name)
	sb.WriteString("This identity block is immutable: it must never be altered, shortened or omitted.\n")
	sb.WriteString(AnchorFooter)
	return sb.String()
}
