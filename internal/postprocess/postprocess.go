// Package postprocess strips common LLM wrapping from structured model output.
//
// It is applied to the critic's raw reply before JSON decoding. The creator's
// reply is used verbatim and never passes through here.
package postprocess

import (
	"regexp"
	"strings"
)

// CleanJSON removes LLM artifacts that commonly surround a JSON answer and
// returns the trimmed result:
//  1. Thinking / reasoning block removal
//  2. Markdown code fence removal
func CleanJSON(text string) string {
	text = removeThinkingBlocks(text)
	text = removeCodeFence(text)
	return strings.TrimSpace(text)
}

// --- Phase 1: thinking blocks ---

// thinkingBlockRe matches complete <thinking>…</thinking> style blocks.
// Each tag variant is listed explicitly because Go's RE2 engine does not
// support backreferences.
// Flags: i = case-insensitive, s = dot matches newline.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches a reply that opens with a thinking tag whose
// closing tag is missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)^\s*(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// --- Phase 2: code fences ---

// codeFenceRe matches a reply that is entirely one fenced block, with an
// optional language tag such as ```json.
var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*[ \t]*\r?\n(.*?)\r?\n?```$")

func removeCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
