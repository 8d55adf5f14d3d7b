package postprocess

import "testing"

func TestRemoveThinkingBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no thinking blocks",
			input:    `{"score": 7}`,
			expected: `{"score": 7}`,
		},
		{
			name:     "simple thinking block",
			input:    `<thinking>Let me score this</thinking>{"score": 7}`,
			expected: `{"score": 7}`,
		},
		{
			name:     "think block",
			input:    "<think>clarity looks fine</think>\n{\"score\": 8}",
			expected: `{"score": 8}`,
		},
		{
			name:     "reasoning block",
			input:    "Start<reasoning>Analyzing the rubric</reasoning>End",
			expected: "StartEnd",
		},
		{
			name:     "multiple thinking blocks",
			input:    "<thinking>First</thinking>middle<thinking>Second</thinking>",
			expected: "middle",
		},
		{
			name:     "truncated thinking block (no closing)",
			input:    "<thinking>Evaluation in progress",
			expected: "",
		},
		{
			name:     "unclosed tag after text is kept",
			input:    "Before<thinking>Incomplete",
			expected: "Before<thinking>Incomplete",
		},
		{
			name:     "unclosed tag inside json string is kept",
			input:    `{"score": 7, "strengths": ["asks for <thinking> first"]}`,
			expected: `{"score": 7, "strengths": ["asks for <thinking> first"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeThinkingBlocks(tt.input)
			if result != tt.expected {
				t.Errorf("removeThinkingBlocks(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRemoveCodeFence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no fence",
			input:    `{"score": 7}`,
			expected: `{"score": 7}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"score\": 7}\n```",
			expected: `{"score": 7}`,
		},
		{
			name:     "bare fence",
			input:    "```\n{\"score\": 7}\n```",
			expected: `{"score": 7}`,
		},
		{
			name:     "fence with CRLF",
			input:    "```json\r\n{\"score\": 7}\r\n```",
			expected: `{"score": 7}`,
		},
		{
			name:     "prose around fence is left alone",
			input:    "Here you go:\n```json\n{\"score\": 7}\n```",
			expected: "Here you go:\n```json\n{\"score\": 7}\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := removeCodeFence(tt.input)
			if result != tt.expected {
				t.Errorf("removeCodeFence(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCleanJSON(t *testing.T) {
	input := "<think>scoring</think>\n```json\n{\"score\": 9, \"strengths\": []}\n```\n"
	want := `{"score": 9, "strengths": []}`

	if got := CleanJSON(input); got != want {
		t.Errorf("CleanJSON() = %q, want %q", got, want)
	}
}

func TestCleanJSON_PlainProseUnchanged(t *testing.T) {
	input := "  This prompt is decent but could be more specific.  "
	want := "This prompt is decent but could be more specific."

	if got := CleanJSON(input); got != want {
		t.Errorf("CleanJSON() = %q, want %q", got, want)
	}
}
