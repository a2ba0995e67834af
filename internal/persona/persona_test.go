package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chorus/internal/registry"
)

type mapLookup map[string]*registry.Construct

func (m mapLookup) Get(id string) *registry.Construct {
	return m[id]
}

func TestBuildAnchorFromRegistry(t *testing.T) {
	t.Parallel()

	b := NewAnchorBuilder(mapLookup{
		"zen": {ID: "zen", Origin: "the chorus runtime", Prompt: "**YOU ARE ZEN**\nCalm.", Traits: []string{"grounded"}},
	}, nil)

	anchor := b.Build("zen")
	require.True(t, strings.HasPrefix(anchor, AnchorHeader))
	require.True(t, strings.HasSuffix(anchor, AnchorFooter))
	assert.Contains(t, anchor, "You are ZEN, from the chorus runtime.")
	assert.Contains(t, anchor, "Never claim to be an AI")
	assert.Contains(t, anchor, "must never be altered, shortened or omitted")
	assert.Contains(t, anchor, "Core traits: grounded.")

	assert.Equal(t, anchor, b.Build(" ZEN "))
}

func TestBuildAnchorUnknownConstruct(t *testing.T) {
	t.Parallel()

	b := NewAnchorBuilder(mapLookup{}, nil)
	id := b.Identity("nova")
	assert.False(t, id.Known)
	assert.Equal(t, "Nova", id.Name)
	assert.Contains(t, b.Build("nova"), "You are Nova")
}

func TestEnforceIdentityRewritesAIClaims(t *testing.T) {
	t.Parallel()

	out, violations := EnforceIdentity("As an AI language model, i can't taste coffee. Sure! I'm just an AI, but here goes.", "Zen")
	require.Len(t, violations, 2)
	assert.Equal(t, "as-an-ai", violations[0].Pattern)
	assert.Equal(t, "i-am-ai", violations[1].Pattern)
	assert.Equal(t, "I can't taste coffee. Sure! I'm Zen, but here goes.", out)
	assert.NotContains(t, strings.ToLower(out), "an ai")
}

func TestEnforceIdentityLeavesCleanText(t *testing.T) {
	t.Parallel()

	text := "I am available tomorrow, and I'm aiming for noon."
	out, violations := EnforceIdentity(text, "Zen")
	assert.Empty(t, violations)
	assert.Equal(t, text, out)
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	got := SplitSentences("Use tools, e.g. grep. It works! Does it? Yes...\n- item one\n## Heading")
	assert.Equal(t, []string{"Use tools, e.g. grep.", "It works!", "Does it?", "Yes...", "- item one", "## Heading"}, got)

	assert.Equal(t, []string{"Version 1.2 shipped."}, SplitSentences("Version 1.2 shipped."))
}

func TestEnforceLength(t *testing.T) {
	t.Parallel()

	text := "One. Two. Three. Four."
	assert.Equal(t, "One. Two.", EnforceLength(text, 2))
	assert.Equal(t, text, EnforceLength(text, 0))
	assert.Equal(t, text, EnforceLength(text, 4))
}

func TestApplySections(t *testing.T) {
	t.Parallel()

	out := ApplySections("Recursion is self reference. A function calls itself. It needs a base case.", []string{"Summary", "Details"})
	assert.Equal(t, "## Summary\n\nRecursion is self reference.\n\n## Details\n\nA function calls itself. It needs a base case.", out)

	paras := ApplySections("First para.\n\nSecond para.\n\nThird para.", []string{"Summary", "Details"})
	assert.Equal(t, "## Summary\n\nFirst para.\n\n## Details\n\nSecond para.\n\nThird para.", paras)

	already := "## Answer\n\nDone."
	assert.Equal(t, already, ApplySections(already, []string{"Summary"}))
	assert.Equal(t, "plain", ApplySections("plain", nil))
}
