package services

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {color} and {color:label} tokens in prompt text.
var placeholderRe = regexp.MustCompile(`\{color(?::([^}]+))?\}`)

// placeholder is one parsed color token. Keys are positional
// (color_1, color_2, ...) so selections survive label edits.
type placeholder struct {
	Key   string
	Name  string
	Token string
	Index int
}

// parsePlaceholders scans prompt text for color tokens, naming unlabeled
// ones Color 1, Color 2, ... in order of appearance.
func parsePlaceholders(prompt string) []placeholder {
	matches := placeholderRe.FindAllStringSubmatch(prompt, -1)
	out := make([]placeholder, 0, len(matches))

	for i, m := range matches {
		index := i + 1
		name := m[1]
		if name == "" {
			name = fmt.Sprintf("Color %d", index)
		}
		out = append(out, placeholder{
			Key:   fmt.Sprintf("color_%d", index),
			Name:  name,
			Token: m[0],
			Index: index,
		})
	}

	return out
}

// renderPrompt substitutes each token's literal text with its selected
// color, first match per occurrence.
func renderPrompt(prompt string, placeholders []placeholder, colors map[string]string) string {
	result := prompt
	for _, ph := range placeholders {
		result = strings.Replace(result, ph.Token, colors[ph.Key], 1)
	}
	return result
}

// placeholderCache re-derives the parse only when the prompt changes.
// Rapid keystrokes hit the cached slice.
type placeholderCache struct {
	lastPrompt string
	parsed     []placeholder
	primed     bool
}

func (c *placeholderCache) get(prompt string) []placeholder {
	if c.primed && prompt == c.lastPrompt {
		return c.parsed
	}
	c.parsed = parsePlaceholders(prompt)
	c.lastPrompt = prompt
	c.primed = true
	return c.parsed
}

func (c *placeholderCache) invalidate() {
	c.primed = false
	c.lastPrompt = ""
	c.parsed = nil
}
