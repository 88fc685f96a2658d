package language

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
)

// mockGenAI implements genai.ClientInterface for testing.
type mockGenAI struct {
	response string
	err      error
}

func (m *mockGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.response, m.err
}

func (m *mockGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.response, m.err
}

func TestDetect_Supported(t *testing.T) {
	d := NewDetector(&mockGenAI{response: "fr"})
	if got := d.Detect(context.Background(), "Bonjour, je veux perdre du poids"); got != "fr" {
		t.Errorf("expected fr, got %s", got)
	}
}

func TestDetect_TrimsVerboseResponse(t *testing.T) {
	d := NewDetector(&mockGenAI{response: "  ES \n"})
	if got := d.Detect(context.Background(), "hola"); got != "es" {
		t.Errorf("expected es, got %s", got)
	}
}

func TestDetect_CollaboratorFailureFallsBack(t *testing.T) {
	d := NewDetector(&mockGenAI{err: errors.New("unavailable")})
	if got := d.Detect(context.Background(), "hello"); got != DefaultCode {
		t.Errorf("expected fallback %s, got %s", DefaultCode, got)
	}
}

func TestNormalize_UnsupportedCode(t *testing.T) {
	if got := Normalize("xx"); got != DefaultCode {
		t.Errorf("expected %s for unsupported code, got %s", DefaultCode, got)
	}
	if got := Normalize("french"); got != "fr" {
		t.Errorf("expected fr from prefix, got %s", got)
	}
}
