package placeholder_test

import (
	"reflect"
	"testing"

	"github.com/valpere/promptforge/internal/placeholder"
)

func TestExtract_NoMarkup(t *testing.T) {
	if got := placeholder.Extract("Write a poem about autumn."); len(got) != 0 {
		t.Errorf("expected no spans, got %v", got)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "template variables",
			text: "Greet {name} and mention {{ .Product }} twice: {name}.",
			want: []string{"{name}", "{{ .Product }}"},
		},
		{
			name: "tags",
			text: "Answer inside <answer>...</answer> and keep <br/> breaks.",
			want: []string{"<answer>", "</answer>", "<br/>"},
		},
		{
			name: "inline code",
			text: "Use `fmt.Println` to print.",
			want: []string{"`fmt.Println`"},
		},
		{
			name: "fenced block swallows inner spans",
			text: "Before\n```go\nfmt.Println(\"{name}\")\n```\nAfter {topic}",
			want: []string{"```go\nfmt.Println(\"{name}\")\n```", "{topic}"},
		},
		{
			name: "comparison is not a tag",
			text: "Return values where a < b and b > c.",
			want: nil,
		},
		{
			name: "json braces are not variables",
			text: `Reply with {"score": 7}.`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := placeholder.Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestMissing(t *testing.T) {
	original := "Summarize {document} for {audience} in <summary> tags."

	t.Run("all kept", func(t *testing.T) {
		refined := "You are an analyst. Summarize {document} for {audience}. Wrap the result in <summary> tags."
		if got := placeholder.Missing(original, refined); len(got) != 0 {
			t.Errorf("expected nothing missing, got %v", got)
		}
	})

	t.Run("some dropped", func(t *testing.T) {
		refined := "Summarize the {document} clearly."
		want := []string{"{audience}", "<summary>"}
		if got := placeholder.Missing(original, refined); !reflect.DeepEqual(got, want) {
			t.Errorf("Missing() = %q, want %q", got, want)
		}
	})
}
