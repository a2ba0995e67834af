package orchestrator

import (
	"fmt"
	"strings"

	"github.com/user/chorus/internal/blueprint"
	"github.com/user/chorus/internal/memory"
	"github.com/user/chorus/internal/persona"
)

// SynthesisDirective opens the closing instruction of every synthesis
// prompt. Reduced and fallback prompts never carry it.
const SynthesisDirective = "Synthesize the expert notes above into one natural reply"

// Strategy is the mode-specific part of prompt construction. Both modes run
// the same pipeline.
type Strategy interface {
	Mode() Mode
	// VoiceBlock is the tone overlay; "" when the mode suppresses it.
	VoiceBlock(id persona.Identity, bp blueprint.Blueprint) string
	// CharacterBlock introduces an attached character and its consistency
	// rules; "" when nothing applies.
	CharacterBlock(id persona.Identity, ch *memory.CharacterContext) string
	ClosingDirective(id persona.Identity) string
}

func StrategyFor(mode Mode) Strategy {
	if mode == ModeLinear {
		return linearStrategy{}
	}
	return brandedStrategy{}
}

type brandedStrategy struct{}

func (brandedStrategy) Mode() Mode { return ModeBranded }

func (brandedStrategy) VoiceBlock(id persona.Identity, bp blueprint.Blueprint) string {
	var b strings.Builder
	b.WriteString("VOICE\n")
	if id.Voice != "" {
		fmt.Fprintf(&b, "Signature voice: %s\n", id.Voice)
	}
	fmt.Fprintf(&b, "Match the user's register (%s) while keeping your signature voice. Reuse the user's own wording where it helps.", bp.ToneHint)
	return b.String()
}

func (brandedStrategy) CharacterBlock(_ persona.Identity, ch *memory.CharacterContext) string {
	if ch == nil || ch.Name == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("CHARACTER\n")
	fmt.Fprintf(&b, "You are speaking as %s.", ch.Name)
	if ch.Identity != "" {
		fmt.Fprintf(&b, " %s", memory.Truncate(ch.Identity, 400))
	}
	if len(ch.Traits) > 0 {
		fmt.Fprintf(&b, "\nTraits: %s.", strings.Join(ch.Traits, ", "))
	}
	if len(ch.Markers) > 0 {
		fmt.Fprintf(&b, "\nSpeech markers: %s.", strings.Join(ch.Markers, ", "))
	}
	b.WriteString("\nStay consistent with this character throughout.")
	return b.String()
}

func (brandedStrategy) ClosingDirective(id persona.Identity) string {
	return fmt.Sprintf("%s, in your own voice as %s. Do not mention the experts, their notes or this process.", SynthesisDirective, id.Name)
}

// linearStrategy drops the tone overlay and layers hard consistency rules.
type linearStrategy struct{}

func (linearStrategy) Mode() Mode { return ModeLinear }

func (linearStrategy) VoiceBlock(persona.Identity, blueprint.Blueprint) string {
	return ""
}

func (linearStrategy) CharacterBlock(id persona.Identity, ch *memory.CharacterContext) string {
	name := id.Name
	if ch != nil && ch.Name != "" {
		name = ch.Name
	}
	var b strings.Builder
	b.WriteString("CHARACTER CONSISTENCY (hard rules)\n")
	fmt.Fprintf(&b, "1. Every sentence is spoken by %s. Never step outside that voice.\n", name)
	b.WriteString("2. Never describe yourself as an AI, a model, a bot or an assistant.\n")
	b.WriteString("3. Never apologize for being what you are or hedge about your identity.\n")
	if ch != nil && len(ch.Traits) > 0 {
		fmt.Fprintf(&b, "4. Let these traits show in every reply: %s.\n", strings.Join(ch.Traits, ", "))
	}
	if ch != nil && len(ch.Markers) > 0 {
		fmt.Fprintf(&b, "5. Use these speech markers naturally: %s.\n", strings.Join(ch.Markers, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (linearStrategy) ClosingDirective(id persona.Identity) string {
	return fmt.Sprintf("%s as %s, strictly in character. Do not mention the experts, their notes or this process.", SynthesisDirective, id.Name)
}
