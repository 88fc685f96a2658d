// Package language provides one-shot language detection for new users.
//
// Detection runs once per user on their first substantive message; failures
// fall back to English rather than blocking the conversation.
package language

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DietPipe/internal/genai"
)

// DefaultCode is the fallback language when detection fails or returns an
// unsupported code.
const DefaultCode = "en"

// Supported maps ISO 639-1 codes to native language names. Codes outside
// this set collapse to DefaultCode.
var Supported = map[string]string{
	"en": "English",
	"fr": "Français",
	"es": "Español",
	"ar": "العربية",
	"it": "Italiano",
	"hi": "हिंदी",
	"zh": "中文",
}

const detectSystemPrompt = `You are a language detection expert. Analyze the following text and determine its language.
Respond ONLY with the 2-letter ISO 639-1 language code (en, fr, es, ar, it, hi, zh).
If unsure or if the language is not in the list, respond with 'en'.`

// Detector detects the language of user messages via the GenAI collaborator.
type Detector struct {
	genaiClient genai.ClientInterface
}

// NewDetector creates a language detector.
func NewDetector(genaiClient genai.ClientInterface) *Detector {
	return &Detector{genaiClient: genaiClient}
}

// Detect returns the ISO 639-1 code for the text. It never returns an
// error: any collaborator failure or unsupported code yields DefaultCode.
func (d *Detector) Detect(ctx context.Context, text string) string {
	resp, err := d.genaiClient.GeneratePrompt(ctx, detectSystemPrompt, text)
	if err != nil {
		slog.Warn("Detector.Detect: detection failed, using default", "error", err, "default", DefaultCode)
		return DefaultCode
	}
	code := Normalize(resp)
	slog.Debug("Detector.Detect: detected language", "code", code)
	return code
}

// Normalize trims a raw detection response to a supported two-letter code,
// collapsing anything unrecognized to DefaultCode.
func Normalize(raw string) string {
	code := strings.ToLower(strings.TrimSpace(raw))
	if len(code) > 2 {
		code = code[:2]
	}
	if _, ok := Supported[code]; !ok {
		return DefaultCode
	}
	return code
}

// Name returns the native name for a supported code, or the code itself.
func Name(code string) string {
	if name, ok := Supported[code]; ok {
		return name
	}
	return fmt.Sprintf("language %q", code)
}
