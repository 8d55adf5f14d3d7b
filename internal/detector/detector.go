// Package detector identifies the natural language a prompt is written in.
package detector

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

// minRunes is the shortest text worth detecting; shorter input is too
// ambiguous to classify.
const minRunes = 3

type Detector struct {
	detector lingua.LanguageDetector
}

var (
	sharedOnce sync.Once
	shared     *Detector
)

// Shared returns a process-wide detector over all languages. Building one
// loads language models, so callers should reuse it.
func Shared() *Detector {
	sharedOnce.Do(func() {
		shared = New()
	})
	return shared
}

// New builds a detector restricted to languages, or over all languages when
// fewer than two are given.
func New(languages ...lingua.Language) *Detector {
	builder := lingua.NewLanguageDetectorBuilder()
	if len(languages) >= 2 {
		builder = builder.FromLanguages(languages...)
	} else {
		builder = builder.FromAllLanguages()
	}
	return &Detector{detector: builder.Build()}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minRunes {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lower-case ISO 639-1 code of text's language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
