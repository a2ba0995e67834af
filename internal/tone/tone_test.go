package tone

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferToneRuleOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  string
		want Tone
	}{
		{"laughter", "haha that's great", Playful},
		{"smiley", "hi :)", Playful},
		{"emoji", "\U0001F44B hey there", Playful},
		{"exclamations", "that worked!!", Playful},
		{"greeting", "hello, how are you?", Casual},
		{"politeness", "Could you please help me with this?", Friendly},
		{"closing", "Dear team, the rollout is complete. Best regards, Ana", Formal},
		{"long", strings.Repeat("The quarterly report needs review. ", 8), Formal},
		{"imperative", "list open ports", Direct},
		{"plain question", "What is the capital of France?", Neutral},
		{"empty", "   ", Neutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferTone(tc.msg), tc.name)
	}
}

func TestInferLength(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Short, InferLength("hi"))
	assert.Equal(t, Short, InferLength("summarize this article for me"))
	assert.Equal(t, Long, InferLength("explain recursion in detail"))
	assert.Equal(t, Long, InferLength("walk me through the deploy step-by-step"))
	assert.Equal(t, Long, InferLength(strings.Repeat("word ", 50)))
	assert.Equal(t, Medium, InferLength("What is a monad?"))
}

func TestWantsDetail(t *testing.T) {
	t.Parallel()

	assert.True(t, WantsDetail("explain recursion in detail"))
	assert.True(t, WantsDetail("give me the full breakdown"))
	assert.False(t, WantsDetail("hi"))
	assert.False(t, WantsDetail("what time is it?"))
}

func TestNewUserMoodIsNeutralMedium(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	snap := store.Get("new-user")
	assert.Equal(t, Neutral, snap.ToneHint)
	assert.Equal(t, Medium, snap.DesiredLength)

	_, ok := store.Snapshot("new-user")
	assert.False(t, ok)
}

func TestMoodUpdateKeepsHintOnNeutralResponse(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	snap := store.Update("u1", "Haha, that was fun!! See you soon.")
	assert.Equal(t, Playful, snap.ToneHint)
	assert.Equal(t, Medium, snap.DesiredLength)
	assert.False(t, snap.UpdatedAt.IsZero())

	snap = store.Update("u1", "The answer is forty two.")
	assert.Equal(t, Playful, snap.ToneHint)
	assert.Equal(t, "The answer is forty two.", snap.LastSample)

	tone, length := store.Resolve("u1", "What is the capital of France?")
	assert.Equal(t, Playful, tone)
	assert.Equal(t, Medium, length)

	tone, _ = store.Resolve("u1", "please check the logs")
	assert.Equal(t, Friendly, tone)
}

func TestResolveFallsBackToMoodLength(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	_, length := store.Resolve("u1", "what do you think about tabs")
	assert.Equal(t, Medium, length)

	snap := store.Update("u1", strings.Repeat("Tabs keep indentation semantic and spaces keep it fixed. ", 5))
	require.Equal(t, Long, snap.DesiredLength)
	_, length = store.Resolve("u1", "what do you think about tabs")
	assert.Equal(t, Long, length)

	_, length = store.Resolve("u1", "tl;dr on tabs please")
	assert.Equal(t, Short, length)

	_, length = store.Resolve("u2", "what do you think about tabs")
	assert.Equal(t, Medium, length)
}

func TestMoodClear(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	store.Update("u1", "lol nice")
	store.Clear("u1")
	assert.Equal(t, DefaultMood(), store.Get("u1"))
}

func TestMoodConcurrentUpdatesSameUser(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				store.Update("shared", "haha ok")
				return
			}
			store.Update("shared", "Thanks for waiting.")
		}(i)
	}
	wg.Wait()

	snap, ok := store.Snapshot("shared")
	require.True(t, ok)
	assert.Contains(t, []Tone{Playful, Friendly}, snap.ToneHint)
}

func TestLastSampleIsBounded(t *testing.T) {
	t.Parallel()

	store := NewMoodStore()
	snap := store.Update("u", strings.Repeat("a", 500))
	assert.Equal(t, lastSampleLimit, len([]rune(snap.LastSample)))
	assert.True(t, strings.HasSuffix(snap.LastSample, "..."))
}
