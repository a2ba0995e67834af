// Package blueprint selects the structural template a reply is shaped by.
package blueprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/chorus/internal/tone"
)

type Format string

const (
	Greeting  Format = "greeting"
	Smalltalk Format = "smalltalk"
	General   Format = "general"
)

type Blueprint struct {
	Format        Format      `json:"format"`
	Sections      []string    `json:"sections,omitempty"`
	Instructions  string      `json:"instructions"`
	ToneHint      tone.Tone   `json:"tone_hint"`
	DesiredLength tone.Length `json:"desired_length"`
	// MaxSentences caps the reply; 0 means no cap.
	MaxSentences int  `json:"max_sentences,omitempty"`
	UseHelpers   bool `json:"use_helpers"`
}

// Overrides carries the inferred tone and length; set fields win over the
// blueprint defaults.
type Overrides struct {
	Tone   tone.Tone   `json:"tone,omitempty"`
	Length tone.Length `json:"length,omitempty"`
}

var (
	smalltalkPattern = regexp.MustCompile(`(?i)\b(how are you|how's it going|how is it going|what's up|whats up|how was your|how have you been|good night|nice to meet|what are you up to|how's your day|how is your day|thank you|thanks|lol|haha|cool|awesome|bye|see you|talk later)\b`)
	technicalPattern = regexp.MustCompile(`(?i)\b(code|coding|function|bug|error|stack ?trace|compile|deploy|api|database|sql|query|server|algorithm|recursion|regex|python|golang|go|javascript|typescript|rust|java|kubernetes|docker|debug|script|class|variable|install|config|build|test|git)\b`)
)

var sentencesByLength = map[tone.Length]int{
	tone.Short:  2,
	tone.Medium: 5,
	tone.Long:   0,
}

var defaults = map[Format]Blueprint{
	Greeting: {
		Format:        Greeting,
		Instructions:  "Reply with one warm, natural sentence that greets the user back.",
		ToneHint:      tone.Casual,
		DesiredLength: tone.Short,
		MaxSentences:  1,
	},
	Smalltalk: {
		Format:        Smalltalk,
		Instructions:  "Keep it conversational and light. No lists, no headings.",
		ToneHint:      tone.Friendly,
		DesiredLength: tone.Short,
		MaxSentences:  3,
	},
	General: {
		Format:        General,
		Instructions:  "Answer the question directly, then add only the context that helps.",
		ToneHint:      tone.Neutral,
		DesiredLength: tone.Medium,
		MaxSentences:  sentencesByLength[tone.Medium],
		UseHelpers:    true,
	},
}

var longSections = []string{"Summary", "Details"}

// Default returns a copy of the built-in blueprint for format, or the general
// one for an unknown format.
func Default(format Format) Blueprint {
	bp, ok := defaults[format]
	if !ok {
		bp = defaults[General]
	}
	bp.Sections = append([]string(nil), bp.Sections...)
	return bp
}

func Classify(message string, hasHistory bool) Format {
	msg := strings.TrimSpace(message)
	switch {
	case tone.IsShortGreeting(msg) && !hasHistory:
		return Greeting
	case smalltalkPattern.MatchString(msg) && !technicalPattern.MatchString(msg):
		return Smalltalk
	default:
		return General
	}
}

// Select picks the blueprint for message, merges overrides over its defaults
// and sanitizes the result.
func Select(message string, hasHistory bool, overrides Overrides) Blueprint {
	bp := Default(Classify(message, hasHistory))
	if overrides.Tone != "" {
		bp.ToneHint = overrides.Tone
	}
	if overrides.Length != "" {
		bp.DesiredLength = overrides.Length
		limit := sentencesByLength[overrides.Length]
		switch {
		case bp.Format == General:
			bp.MaxSentences = limit
			if overrides.Length == tone.Long {
				bp.Sections = append([]string(nil), longSections...)
			}
		case limit > 0 && limit < bp.MaxSentences:
			// Greeting and smalltalk keep their own tighter caps.
			bp.MaxSentences = limit
		}
	}
	return Sanitize(bp)
}

// Sanitize replaces unknown or empty fields with the defaults of the
// blueprint's format.
func Sanitize(bp Blueprint) Blueprint {
	def := Default(bp.Format)
	bp.Format = def.Format
	if strings.TrimSpace(bp.Instructions) == "" {
		bp.Instructions = def.Instructions
	}
	if !bp.ToneHint.Valid() {
		bp.ToneHint = def.ToneHint
	}
	if !bp.DesiredLength.Valid() {
		bp.DesiredLength = def.DesiredLength
		bp.MaxSentences = def.MaxSentences
	}
	if bp.MaxSentences < 0 {
		bp.MaxSentences = def.MaxSentences
	}
	sections := make([]string, 0, len(bp.Sections))
	for _, s := range bp.Sections {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}
	if len(sections) == 0 {
		sections = nil
	}
	bp.Sections = sections
	if bp.Format != General {
		bp.UseHelpers = false
	}
	return bp
}

// LengthGuidance is the prompt line describing the target size.
func (bp Blueprint) LengthGuidance() string {
	switch {
	case bp.MaxSentences == 1:
		return "Respond in a single sentence."
	case bp.MaxSentences > 0:
		return fmt.Sprintf("Keep the reply to at most %d sentences.", bp.MaxSentences)
	case bp.DesiredLength == tone.Long:
		return "Give a thorough, well-structured answer."
	default:
		return "Keep the reply focused."
	}
}
