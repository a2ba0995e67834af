package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/chorus/internal/tone"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Greeting, Classify("hi", false))
	assert.Equal(t, Greeting, Classify("Good morning!", false))
	assert.Equal(t, General, Classify("hi", true))
	assert.Equal(t, Smalltalk, Classify("how are you doing today?", false))
	assert.Equal(t, General, Classify("how are you handling the database migration?", false))
	assert.Equal(t, General, Classify("explain recursion in detail", false))
}

func TestSelectGreetingSkipsHelpers(t *testing.T) {
	t.Parallel()

	bp := Select("hi", false, Overrides{Tone: tone.InferTone("hi"), Length: tone.InferLength("hi")})
	assert.Equal(t, Greeting, bp.Format)
	assert.Equal(t, 1, bp.MaxSentences)
	assert.False(t, bp.UseHelpers)
	assert.Equal(t, tone.Casual, bp.ToneHint)
	assert.Equal(t, "Respond in a single sentence.", bp.LengthGuidance())
}

func TestSelectGeneralLongAddsSections(t *testing.T) {
	t.Parallel()

	msg := "explain recursion in detail"
	bp := Select(msg, false, Overrides{Tone: tone.InferTone(msg), Length: tone.InferLength(msg)})
	assert.Equal(t, General, bp.Format)
	assert.Equal(t, tone.Long, bp.DesiredLength)
	assert.Equal(t, []string{"Summary", "Details"}, bp.Sections)
	assert.Zero(t, bp.MaxSentences)
	assert.True(t, bp.UseHelpers)
}

func TestSelectShortCapsAtTwoSentences(t *testing.T) {
	t.Parallel()

	bp := Select("summarize the incident", true, Overrides{Length: tone.Short})
	assert.Equal(t, General, bp.Format)
	assert.Equal(t, 2, bp.MaxSentences)
	assert.Empty(t, bp.Sections)
}

func TestSelectSmalltalkKeepsTighterCap(t *testing.T) {
	t.Parallel()

	bp := Select("how are you?", true, Overrides{Length: tone.Medium})
	assert.Equal(t, Smalltalk, bp.Format)
	assert.Equal(t, 3, bp.MaxSentences)
	assert.Equal(t, tone.Medium, bp.DesiredLength)

	bp = Select("how are you?", true, Overrides{Length: tone.Short})
	assert.Equal(t, 2, bp.MaxSentences)
}

func TestSanitizeFillsDefaults(t *testing.T) {
	t.Parallel()

	bp := Sanitize(Blueprint{
		Format:        "mystery",
		ToneHint:      "grumpy",
		DesiredLength: "epic",
		Sections:      []string{" ", "Summary", ""},
		MaxSentences:  -4,
		UseHelpers:    true,
	})
	assert.Equal(t, General, bp.Format)
	assert.Equal(t, tone.Neutral, bp.ToneHint)
	assert.Equal(t, tone.Medium, bp.DesiredLength)
	assert.Equal(t, 5, bp.MaxSentences)
	assert.Equal(t, []string{"Summary"}, bp.Sections)
	assert.NotEmpty(t, bp.Instructions)

	greeting := Sanitize(Blueprint{Format: Greeting, UseHelpers: true})
	assert.False(t, greeting.UseHelpers)
	assert.Equal(t, tone.Casual, greeting.ToneHint)
}
