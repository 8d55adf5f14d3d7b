// Package validator checks that a refined prompt stays in the language of the
// original.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/promptforge/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Validator compares the language of a refined prompt against an expected one.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by det, or by the shared detector when det
// is nil.
func New(det *detector.Detector) *Validator {
	if det == nil {
		det = detector.Shared()
	}
	return &Validator{det: det}
}

// CheckLanguage returns an error when refined appears to be written in a
// language other than expectedLang. An empty expectedLang, short text and
// undetectable text all pass.
func (v *Validator) CheckLanguage(refined, expectedLang string) error {
	if expectedLang == "" {
		return nil
	}

	text := strings.TrimSpace(refined)
	if text == "" {
		return fmt.Errorf("refined prompt is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return nil
	}

	if !strings.EqualFold(detected, expectedLang) {
		return fmt.Errorf("language drift: expected %s but detected %s", expectedLang, detected)
	}

	return nil
}
