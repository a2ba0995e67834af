package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxSTM       = 5
	maxLTM       = 5
	maxSummaries = 3
	maxNews      = 2
	maxAnchors   = 3

	stmBudget       = 160
	ltmBudget       = 180
	summaryBudget   = 200
	awarenessBudget = 140
	anchorBudget    = 160
)

// Format renders c as a bounded multi-line digest. It returns "" for a nil
// or empty snapshot and never mutates c.
func Format(c *Context) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[memory digest]\n")
	header := []string{}
	if c.ConstructID != "" {
		header = append(header, "construct: "+c.ConstructID)
	}
	if c.ThreadID != "" {
		header = append(header, "thread: "+c.ThreadID)
	}
	if len(header) > 0 {
		b.WriteString(strings.Join(header, " | "))
		b.WriteByte('\n')
	}
	body := b.Len()

	if stm := recentSTM(c.STMWindow); len(stm) > 0 {
		b.WriteString("recent turns:\n")
		for _, e := range stm {
			role := e.Role
			if role == "" {
				role = "unknown"
			}
			fmt.Fprintf(&b, "- %s: %s", role, Truncate(e.Content, stmBudget))
			if !e.Timestamp.IsZero() {
				fmt.Fprintf(&b, " (%s)", e.Timestamp.UTC().Format(time.RFC3339))
			}
			b.WriteByte('\n')
		}
	}

	if ltm := topLTM(c.LTMEntries); len(ltm) > 0 {
		b.WriteString("long-term memory:\n")
		for _, e := range ltm {
			kind := e.Kind
			if kind == "" {
				kind = "memory"
			}
			fmt.Fprintf(&b, "- [%s %.2f] %s\n", kind, e.Relevance, Truncate(e.Content, ltmBudget))
		}
	}

	if len(c.Summaries) > 0 {
		b.WriteString("vault summaries:\n")
		for i, s := range c.Summaries {
			if i == maxSummaries {
				break
			}
			text := Truncate(s.Content, summaryBudget)
			if s.Title != "" {
				text = Truncate(s.Title, 60) + ": " + text
			}
			fmt.Fprintf(&b, "- %s\n", text)
		}
	}

	if stats := vaultStats(c); stats != "" {
		b.WriteString(stats)
		b.WriteByte('\n')
	}

	if a := c.Awareness; a != nil {
		writeAwareness(&b, a)
	}

	if ch := c.Character; ch != nil && ch.Name != "" {
		fmt.Fprintf(&b, "character: %s\n", Truncate(ch.Name, 60))
		if ch.Identity != "" {
			fmt.Fprintf(&b, "- identity: %s\n", Truncate(ch.Identity, awarenessBudget))
		}
		if len(ch.Traits) > 0 {
			fmt.Fprintf(&b, "- traits: %s\n", Truncate(strings.Join(ch.Traits, ", "), awarenessBudget))
		}
		if len(ch.Markers) > 0 {
			fmt.Fprintf(&b, "- speech markers: %s\n", Truncate(strings.Join(ch.Markers, ", "), awarenessBudget))
		}
	}

	if len(c.CharacterMemories) > 0 {
		b.WriteString("character anchors:\n")
		for i, m := range c.CharacterMemories {
			if i == maxAnchors {
				break
			}
			fmt.Fprintf(&b, "- %s\n", Truncate(m.Anchor, anchorBudget))
		}
	}

	if b.Len() == body && len(header) == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeAwareness(b *strings.Builder, a *Awareness) {
	lines := make([]string, 0, 4+maxNews)
	if !a.LocalTime.IsZero() {
		lines = append(lines, "local time: "+a.LocalTime.Format("Mon 2006-01-02 15:04 MST"))
	}
	if a.Location != "" {
		lines = append(lines, "location: "+Truncate(a.Location, awarenessBudget))
	}
	if a.MoodBaseline != "" || len(a.MoodDrivers) > 0 {
		mood := a.MoodBaseline
		if mood == "" {
			mood = "unspecified"
		}
		if len(a.MoodDrivers) > 0 {
			mood += " (drivers: " + strings.Join(a.MoodDrivers, ", ") + ")"
		}
		lines = append(lines, "mood: "+Truncate(mood, awarenessBudget))
	}
	for i, n := range a.News {
		if i == maxNews {
			break
		}
		item := n.Headline
		if n.Source != "" {
			item += " [" + n.Source + "]"
		}
		lines = append(lines, "news: "+Truncate(item, awarenessBudget))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("awareness:\n")
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// recentSTM returns the last maxSTM entries in chronological order.
func recentSTM(entries []STMEntry) []STMEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := append([]STMEntry(nil), entries...)
	stamped := true
	for _, e := range sorted {
		if e.Timestamp.IsZero() {
			stamped = false
			break
		}
	}
	// Without timestamps the window order is taken as chronological.
	if stamped {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
	}
	if len(sorted) > maxSTM {
		sorted = sorted[len(sorted)-maxSTM:]
	}
	return sorted
}

func topLTM(entries []LTMEntry) []LTMEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := append([]LTMEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Relevance > sorted[j].Relevance
	})
	if len(sorted) > maxLTM {
		sorted = sorted[:maxLTM]
	}
	return sorted
}

func vaultStats(c *Context) string {
	if len(c.STMWindow) == 0 && len(c.LTMEntries) == 0 && len(c.Summaries) == 0 && len(c.CharacterMemories) == 0 {
		return ""
	}
	stats := fmt.Sprintf("vault stats: stm=%d ltm=%d summaries=%d anchors=%d",
		len(c.STMWindow), len(c.LTMEntries), len(c.Summaries), len(c.CharacterMemories))
	if len(c.LTMEntries) > 0 {
		var sum float64
		for _, e := range c.LTMEntries {
			sum += e.Relevance
		}
		stats += fmt.Sprintf(" avg_relevance=%.2f", sum/float64(len(c.LTMEntries)))
	}
	return stats
}

// Truncate collapses whitespace in s and cuts it to at most limit runes,
// ending in "..." when cut.
func Truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimRight(string(runes[:limit-3]), " ") + "..."
}
