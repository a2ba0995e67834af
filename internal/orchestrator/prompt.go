package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/user/chorus/internal/blueprint"
	"github.com/user/chorus/internal/memory"
	"github.com/user/chorus/internal/persona"
	"github.com/user/chorus/internal/seat"
)

const (
	defaultContextBudget = 12000
	softBudgetRatio      = 0.70
	hardPruneRatio       = 0.50
	softPruneRatio       = 0.70

	complexLengthThreshold = 500
	historyTurnBudget      = 400
)

var complexPattern = regexp.MustCompile(`(?i)\b(why do i|reflect\w*|analy[sz]\w*|meaning|feel(ing|s)?|emotion\w*|anxious|grief|lonely|trade-?offs?|pros and cons|implications?|philosoph\w*|compare|should i)\b`)

// isComplex reports whether message warrants an extra summary call.
func isComplex(message string) bool {
	return complexPattern.MatchString(message) ||
		utf8.RuneCountInString(message) > complexLengthThreshold ||
		strings.Count(message, "?") > 2
}

// promptContext is the prunable material of one request. The anchor is held
// separately and is never part of pruning.
type promptContext struct {
	history []Turn
	digest  string
	message string
}

func (p promptContext) size(anchor string) int {
	n := len(anchor) + len(p.digest) + len(p.message)
	for _, t := range p.history {
		n += len(t.Content) + len(t.Role) + 4
	}
	return n
}

// prune drops the oldest history turns, then the memory digest, until the
// context fits the target for its budget band. It reports whether anything
// was dropped.
func (p *promptContext) prune(anchor string, budget int) bool {
	size := p.size(anchor)
	soft := int(float64(budget) * softBudgetRatio)
	if size <= soft {
		return false
	}
	ratio := softPruneRatio
	if size > budget {
		ratio = hardPruneRatio
	}
	target := int(float64(budget) * ratio)

	pruned := false
	for len(p.history) > 0 && p.size(anchor) > target {
		p.history = p.history[1:]
		pruned = true
	}
	if p.size(anchor) > target && p.digest != "" {
		p.digest = ""
		pruned = true
	}
	return pruned
}

type helperSpec struct {
	focus string
	ask   string
}

var helperSpecs = map[seat.ID]helperSpec{
	seat.Coding: {
		focus: "technical accuracy",
		ask:   "List the precise technical points that matter here: facts, code, commands, pitfalls. Skip anything non-technical. Notes only.",
	},
	seat.Creative: {
		focus: "framing and ideas",
		ask:   "Offer framing, analogies or fresh angles that would make the answer vivid and memorable. Notes only.",
	},
	seat.Smalltalk: {
		focus: "conversational fit",
		ask:   "Describe how a warm, natural reply to this person should sound, and anything in their message worth acknowledging. Notes only.",
	},
}

func buildHelperPrompt(id seat.ID, role, name string, req Request, pc promptContext, summary string) string {
	spec := helperSpecs[id]
	if role == "" {
		role = string(id) + " expert"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s advising %s on %s.\n", role, name, spec.focus)
	b.WriteString(spec.ask)
	b.WriteString("\n")
	if summary != "" {
		fmt.Fprintf(&b, "\nWhat the user is after: %s\n", summary)
	}
	if recent := formatHistory(pc.history, 6); recent != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(recent)
	}
	fmt.Fprintf(&b, "\nUser message:\n%s\n", req.Message)
	return b.String()
}

type synthesisInput struct {
	anchor   string
	identity persona.Identity
	strategy Strategy
	bp       blueprint.Blueprint
	pc       promptContext
	summary  string
	req      Request
	labels   map[seat.ID]string
	results  []seat.Result
}

// buildSynthesisPrompt assembles the final prompt. The anchor always comes
// first and is copied verbatim.
func buildSynthesisPrompt(in synthesisInput) string {
	var b strings.Builder
	b.WriteString(in.anchor)

	var character *memory.CharacterContext
	if in.req.Memory != nil {
		character = in.req.Memory.Character
	}
	section(&b, in.strategy.CharacterBlock(in.identity, character))
	section(&b, formattingRules(in.bp))
	section(&b, toneGuidance(in.strategy, in.identity, in.bp))
	section(&b, in.pc.digest)
	if in.summary != "" {
		section(&b, "CONTEXT SUMMARY\n"+in.summary)
	}
	if recent := formatHistory(in.pc.history, 0); recent != "" {
		section(&b, "RECENT CONVERSATION\n"+strings.TrimRight(recent, "\n"))
	}
	section(&b, "USER MESSAGE\n"+in.req.Message)

	notes := make([]string, 0, len(in.results))
	for _, res := range in.results {
		label := in.labels[res.Seat]
		if label == "" {
			label = string(res.Seat)
		}
		notes = append(notes, fmt.Sprintf("### %s (%s)\n%s", label, res.Seat, strings.TrimSpace(res.Response)))
	}
	section(&b, "EXPERT NOTES\n"+strings.Join(notes, "\n\n"))
	section(&b, in.strategy.ClosingDirective(in.identity))
	return b.String()
}

// buildDirectPrompt serves greeting and smalltalk replies without helpers.
func buildDirectPrompt(anchor string, id persona.Identity, strategy Strategy, bp blueprint.Blueprint, pc promptContext, req Request) string {
	var b strings.Builder
	b.WriteString(anchor)
	var character *memory.CharacterContext
	if req.Memory != nil {
		character = req.Memory.Character
	}
	section(&b, strategy.CharacterBlock(id, character))
	section(&b, formattingRules(bp))
	section(&b, toneGuidance(strategy, id, bp))
	if recent := formatHistory(pc.history, 4); recent != "" {
		section(&b, "RECENT CONVERSATION\n"+strings.TrimRight(recent, "\n"))
	}
	section(&b, "USER MESSAGE\n"+req.Message)
	section(&b, fmt.Sprintf("Reply as %s.", id.Name))
	return b.String()
}

// buildReducedPrompt is used when too many helper seats are down. It carries
// whatever helper output survived but no synthesis directive.
func buildReducedPrompt(anchor string, id persona.Identity, bp blueprint.Blueprint, pc promptContext, req Request, survivors []seat.Result) string {
	var b strings.Builder
	b.WriteString(anchor)
	section(&b, "REDUCED MODE\nSome of your usual resources are offline right now. Answer as well as you can on your own, plainly and briefly. Do not mention outages or missing resources.")
	section(&b, formattingRules(bp))
	if recent := formatHistory(pc.history, 4); recent != "" {
		section(&b, "RECENT CONVERSATION\n"+strings.TrimRight(recent, "\n"))
	}
	if len(survivors) > 0 {
		notes := make([]string, 0, len(survivors))
		for _, res := range survivors {
			notes = append(notes, strings.TrimSpace(res.Response))
		}
		section(&b, "NOTES\n"+strings.Join(notes, "\n\n"))
	}
	section(&b, "USER MESSAGE\n"+req.Message)
	section(&b, fmt.Sprintf("Reply as %s.", id.Name))
	return b.String()
}

func buildFallbackPrompt(anchor string, id persona.Identity, req Request) string {
	var b strings.Builder
	b.WriteString(anchor)
	section(&b, "Something went wrong while preparing a full answer. Start with one short apology, then give the most helpful brief answer you can.")
	section(&b, "USER MESSAGE\n"+req.Message)
	section(&b, fmt.Sprintf("Reply as %s in at most three sentences.", id.Name))
	return b.String()
}

func buildSummaryPrompt(message, digest string) string {
	var b strings.Builder
	b.WriteString("In at most two sentences, state what the user is really asking and which context matters most. Output only the summary.\n")
	if digest != "" {
		b.WriteString("\n")
		b.WriteString(memory.Truncate(digest, 1200))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nUser message:\n%s\n", message)
	return b.String()
}

func formattingRules(bp blueprint.Blueprint) string {
	var b strings.Builder
	b.WriteString("FORMAT\n")
	b.WriteString(bp.Instructions)
	if len(bp.Sections) > 0 {
		fmt.Fprintf(&b, "\nUse these sections as markdown headings, in order: %s.", strings.Join(bp.Sections, ", "))
	} else if bp.Format != blueprint.General {
		b.WriteString("\nNo headings or lists.")
	}
	return b.String()
}

func toneGuidance(strategy Strategy, id persona.Identity, bp blueprint.Blueprint) string {
	var b strings.Builder
	if voice := strategy.VoiceBlock(id, bp); voice != "" {
		b.WriteString(voice)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "LENGTH (%s)\n%s", bp.DesiredLength, bp.LengthGuidance())
	return b.String()
}

// formatHistory renders the last max turns (all when max <= 0).
func formatHistory(turns []Turn, max int) string {
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, memory.Truncate(t.Content, historyTurnBudget))
	}
	return b.String()
}

func section(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(text)
}
