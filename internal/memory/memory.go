// Package memory holds the read-only memory snapshot supplied by the caller
// and compresses it into a bounded digest for prompts.
package memory

import (
	"time"
)

// Context is the memory snapshot for one exchange. The engine never writes
// to it.
type Context struct {
	ConstructID       string            `json:"construct_id"`
	ThreadID          string            `json:"thread_id,omitempty"`
	STMWindow         []STMEntry        `json:"stm_window,omitempty"`
	LTMEntries        []LTMEntry        `json:"ltm_entries,omitempty"`
	Summaries         []Summary         `json:"summaries,omitempty"`
	Awareness         *Awareness        `json:"awareness,omitempty"`
	Character         *CharacterContext `json:"character,omitempty"`
	CharacterMemories []CharacterMemory `json:"character_memories,omitempty"`
}

type STMEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type LTMEntry struct {
	Kind      string  `json:"kind,omitempty"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

type Summary struct {
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Awareness struct {
	LocalTime    time.Time  `json:"local_time,omitempty"`
	Location     string     `json:"location,omitempty"`
	MoodBaseline string     `json:"mood_baseline,omitempty"`
	MoodDrivers  []string   `json:"mood_drivers,omitempty"`
	News         []NewsItem `json:"news,omitempty"`
}

type NewsItem struct {
	Headline string `json:"headline"`
	Source   string `json:"source,omitempty"`
}

// CharacterContext describes a character persona attached to the exchange.
// When present the reply is post-filtered for character breaks.
type CharacterContext struct {
	Name     string   `json:"name"`
	Identity string   `json:"identity,omitempty"`
	Traits   []string `json:"traits,omitempty"`
	Markers  []string `json:"markers,omitempty"`
}

type CharacterMemory struct {
	Anchor       string  `json:"anchor"`
	Significance float64 `json:"significance,omitempty"`
}

func (c *Context) HasCharacter() bool {
	return c != nil && c.Character != nil && c.Character.Name != ""
}
