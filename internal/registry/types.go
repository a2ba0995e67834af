package registry

import (
	"regexp"
	"strings"
)

const (
	ModeBranded = "branded"
	ModeLinear  = "linear"
)

// Construct is a registered persona identity the engine speaks as.
type Construct struct {
	ID     string   `yaml:"id" json:"id"`
	Name   string   `yaml:"name,omitempty" json:"name,omitempty"`
	Origin string   `yaml:"origin,omitempty" json:"origin,omitempty"`
	Mode   string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Voice  string   `yaml:"voice,omitempty" json:"voice,omitempty"`
	Prompt string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Traits []string `yaml:"traits" json:"traits"`
}

var youArePattern = regexp.MustCompile(`\*\*YOU ARE ([^*]+)\*\*`)

// DisplayName is Name, else the NAME of a "**YOU ARE NAME**" prompt line,
// else the capitalized id.
func (c *Construct) DisplayName() string {
	if c == nil {
		return ""
	}
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	if name := PromptName(c.Prompt); name != "" {
		return name
	}
	return capitalize(c.ID)
}

func PromptName(prompt string) string {
	m := youArePattern.FindStringSubmatch(prompt)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
