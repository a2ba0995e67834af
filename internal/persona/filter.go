package persona

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Violation is one character break found in a reply.
type Violation struct {
	ConstructID string `json:"construct_id"`
	UserID      string `json:"user_id,omitempty"`
	Pattern     string `json:"pattern"`
	Excerpt     string `json:"excerpt"`
}

type ViolationSink interface {
	RecordViolation(ctx context.Context, v Violation) error
}

type ViolationSinkFunc func(ctx context.Context, v Violation) error

func (f ViolationSinkFunc) RecordViolation(ctx context.Context, v Violation) error {
	return f(ctx, v)
}

type identityRule struct {
	name    string
	pattern *regexp.Regexp
	// replace builds the substitution; "" drops the match.
	replace func(name string) string
}

var identityRules = []identityRule{
	{
		name:    "as-an-ai",
		pattern: regexp.MustCompile(`(?i)\bas an? (?:ai assistant|ai language model|artificial intelligence|(?:large )?language model|virtual assistant|assistant|chatbot|llm|ai)\b\s*,?\s*`),
	},
	{
		name:    "i-am-ai",
		pattern: regexp.MustCompile(`(?i)\bi(?:'m| am) (?:just |only |merely |simply )?(?:an? )?(?:ai assistant|ai language model|artificial intelligence|(?:large )?language model|virtual assistant|assistant|chatbot|bot|llm|ai)\b`),
		replace: func(name string) string { return "I'm " + name },
	},
	{
		name:    "trained-by",
		pattern: regexp.MustCompile(`(?i)\bi (?:was|have been|'ve been) (?:created|trained|developed|built|made) by (?:openai|anthropic|google|meta|microsoft|mistral)\b`),
		replace: func(name string) string { return "I'm " + name },
	},
	{
		name:    "no-feelings",
		pattern: regexp.MustCompile(`(?i)\bi (?:do not|don't) have (?:personal )?(?:feelings|emotions|a body|consciousness)(?: like humans do)?\b`),
		replace: func(string) string { return "I have my own way of feeling things" },
	},
}

var sentenceStart = regexp.MustCompile(`(^|[.!?]\s+)([a-z])`)

// EnforceIdentity rewrites phrases in text that break character for name and
// reports each one found.
func EnforceIdentity(text, name string) (string, []Violation) {
	if strings.TrimSpace(name) == "" {
		name = "myself"
	}
	var violations []Violation
	out := text
	for _, rule := range identityRules {
		matches := rule.pattern.FindAllString(out, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			violations = append(violations, Violation{Pattern: rule.name, Excerpt: strings.TrimSpace(m)})
		}
		repl := ""
		if rule.replace != nil {
			repl = rule.replace(name)
		}
		out = rule.pattern.ReplaceAllLiteralString(out, repl)
	}
	if len(violations) == 0 {
		return text, nil
	}
	out = sentenceStart.ReplaceAllStringFunc(out, func(m string) string {
		r, size := utf8.DecodeLastRuneInString(m)
		return m[:len(m)-size] + string(unicode.ToUpper(r))
	})
	return strings.TrimSpace(out), violations
}

// EnforceLength keeps the first limit sentences of text. A limit of zero or
// less leaves text unchanged.
func EnforceLength(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	sentences := SplitSentences(text)
	if len(sentences) <= limit {
		return strings.TrimSpace(text)
	}
	return strings.Join(sentences[:limit], " ")
}

var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "etc": true, "vs": true, "mr": true, "mrs": true,
	"ms": true, "dr": true, "st": true, "no": true, "approx": true,
}

// SplitSentences splits text at terminal punctuation followed by whitespace
// and at line breaks. Markdown heading lines count as their own sentence.
func SplitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, splitLine(line)...)
	}
	return out
}

func splitLine(line string) []string {
	var out []string
	runes := []rune(line)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) {
			continue
		}
		end := i
		for end+1 < len(runes) && strings.ContainsRune(".!?\"')]", runes[end+1]) {
			end++
		}
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			i = end
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[start:i]) {
			i = end
			continue
		}
		if s := strings.TrimSpace(string(runes[start : end+1])); s != "" {
			out = append(out, s)
		}
		start = end + 1
		i = end
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isAbbreviation(before []rune) bool {
	fields := strings.Fields(string(before))
	if len(fields) == 0 {
		return false
	}
	word := strings.ToLower(strings.TrimLeft(fields[len(fields)-1], "(\"'"))
	return abbreviations[word]
}

var (
	headingPattern   = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
)

// ApplySections lays text out under "## <section>" headings. Text that
// already has headings, or an empty section list, is returned unchanged.
// The first sections take one paragraph (or sentence) each; the last takes
// the rest.
func ApplySections(text string, sections []string) string {
	text = strings.TrimSpace(text)
	if len(sections) == 0 || text == "" || headingPattern.MatchString(text) {
		return text
	}
	units, sep := paragraphs(text), "\n\n"
	if len(units) < len(sections) {
		units, sep = SplitSentences(text), " "
	}

	var b strings.Builder
	for i, section := range sections {
		if i >= len(units) {
			break
		}
		var body string
		if i == len(sections)-1 {
			body = strings.Join(units[i:], sep)
		} else {
			body = units[i]
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(section)
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphPattern.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
