// Package tone infers a tone hint and a desired reply length from message
// text, and keeps a rolling per-user mood across exchanges.
package tone

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Tone string

const (
	Neutral  Tone = "neutral"
	Casual   Tone = "casual"
	Friendly Tone = "friendly"
	Formal   Tone = "formal"
	Playful  Tone = "playful"
	Direct   Tone = "direct"
)

func (t Tone) Valid() bool {
	switch t {
	case Neutral, Casual, Friendly, Formal, Playful, Direct:
		return true
	default:
		return false
	}
}

type Length string

const (
	Short  Length = "short"
	Medium Length = "medium"
	Long   Length = "long"
)

func (l Length) Valid() bool {
	switch l {
	case Short, Medium, Long:
		return true
	default:
		return false
	}
}

const (
	formalLengthThreshold = 200
	longLengthThreshold   = 220
	directMaxWords        = 8
)

var (
	playfulPattern  = regexp.MustCompile(`(?i)(!{2,}|\blo+l\b|\bha(ha)+\b|\bhe(he)+\b|\blmao\b|\brofl\b|\bxd\b|<3)`)
	smileyPattern   = regexp.MustCompile(`(?i)(^|\s)[:;]-?[)dp]($|[\s.,!?])`)
	greetingPrefix  = regexp.MustCompile(`(?i)^\s*(hi|hey|hello|hiya|howdy|yo|sup|greetings|good (morning|afternoon|evening))\b`)
	shortGreeting   = regexp.MustCompile(`(?i)^\s*(hi|hey|hello|hiya|howdy|yo|sup|greetings|good (morning|afternoon|evening))( there)?[\s!.,?]*$`)
	politePattern   = regexp.MustCompile(`(?i)\b(please|thanks|thank you|thx|appreciate( it)?|kindly)\b`)
	formalClosing   = regexp.MustCompile(`(?i)\b(sincerely|best regards|kind regards|warm regards|regards|respectfully|yours truly|with gratitude)\b`)
	imperativeStart = regexp.MustCompile(`(?i)^\s*(list|show|give|tell|fix|write|run|make|build|find|get|explain|describe|compare|convert|add|remove|delete|create|stop|do)\b`)
	summarizeIntent = regexp.MustCompile(`(?i)\b(summari[sz]e|summary|tl;?dr|briefly|in short|in a nutshell|one line)\b`)
	depthIntent     = regexp.MustCompile(`(?i)\b(explain|step[- ]by[- ]step|in[- ]depth|in detail|detailed|elaborate|walk me through|deep dive|thoroughly)\b`)
	detailIntent    = regexp.MustCompile(`(?i)\b(details?|detailed|explain|elaborate|step[- ]by[- ]step|in[- ]depth|thorough(ly)?|walk me through|deep dive|comprehensive|full breakdown)\b`)
)

// InferTone classifies message by the first matching rule: playful markers,
// greeting prefix, politeness, formal closing or long text, short imperative
// or unterminated text, else neutral.
func InferTone(message string) Tone {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Neutral
	}
	switch {
	case playfulPattern.MatchString(msg) || smileyPattern.MatchString(msg) || hasEmoji(msg):
		return Playful
	case greetingPrefix.MatchString(msg):
		return Casual
	case politePattern.MatchString(msg):
		return Friendly
	case formalClosing.MatchString(msg) || utf8.RuneCountInString(msg) > formalLengthThreshold:
		return Formal
	case isDirect(msg):
		return Direct
	default:
		return Neutral
	}
}

// InferLength maps message to the reply length it asks for.
func InferLength(message string) Length {
	length, _ := LengthSignal(message)
	return length
}

// LengthSignal is InferLength that also reports whether the message carried
// an explicit length cue. Without one the result is Medium and ok is false.
func LengthSignal(message string) (Length, bool) {
	msg := strings.TrimSpace(message)
	switch {
	case IsShortGreeting(msg) || summarizeIntent.MatchString(msg):
		return Short, true
	case depthIntent.MatchString(msg) || utf8.RuneCountInString(msg) > longLengthThreshold:
		return Long, true
	default:
		return Medium, false
	}
}

// WantsDetail reports whether the user explicitly asked for a detailed
// answer. Sentence caps are not applied when it does.
func WantsDetail(message string) bool {
	return detailIntent.MatchString(message)
}

func IsShortGreeting(message string) bool {
	return shortGreeting.MatchString(message)
}

func isDirect(msg string) bool {
	words := strings.Fields(msg)
	if len(words) == 0 || len(words) > directMaxWords {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(msg)
	if !strings.ContainsRune(".!?", last) {
		return true
	}
	return imperativeStart.MatchString(msg) && last != '?'
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1FAFF {
			return true
		}
		if r >= 0x2600 && r <= 0x27BF && unicode.IsSymbol(r) {
			return true
		}
	}
	return false
}
