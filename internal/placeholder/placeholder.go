// Package placeholder finds the spans of a prompt that a rewrite must carry
// over verbatim: fenced code blocks, inline code, template variables and
// markup tags.
package placeholder

import (
	"regexp"
	"strings"
)

var (
	// fenced code blocks: ```...``` (non-greedy, may span lines)
	reFencedCode = regexp.MustCompile("(?s)```.*?```")

	// inline code spans: `...`
	reInlineCode = regexp.MustCompile("`[^`\n]+`")

	// template variables: {{name}}, {{ .Field }}, {name}
	reTemplateVar = regexp.MustCompile(`\{\{[^{}]+\}\}|\{[A-Za-z_][A-Za-z0-9_.]*\}`)

	// HTML/XML tags: opening, closing, and self-closing
	reTag = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9_-]*(?:\s[^<>]*)?/?>`)
)

// Extract returns the protected spans of text grouped by kind, each group in
// order of appearance, without duplicates. A span inside a longer one (a variable
// inside a code block) is reported only as part of the longer span.
func Extract(text string) []string {
	var spans []string
	seen := make(map[string]bool)

	take := func(match string) string {
		if !seen[match] {
			seen[match] = true
			spans = append(spans, match)
		}
		return " "
	}

	// Order matters: fenced first (longest match), then inline, variables, tags.
	for _, re := range []*regexp.Regexp{reFencedCode, reInlineCode, reTemplateVar, reTag} {
		text = re.ReplaceAllStringFunc(text, take)
	}
	return spans
}

// Missing returns the protected spans of original that refined no longer
// contains.
func Missing(original, refined string) []string {
	var missing []string
	for _, span := range Extract(original) {
		if !strings.Contains(refined, span) {
			missing = append(missing, span)
		}
	}
	return missing
}
