package dotprompt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const haikuTemplate = `---
model: googleai/gemini-pro
config:
  temperature: 0.9
---
Write a haiku about {{topic}} in the style of {{poet}}.
Mention {{topic}} twice.`

func TestParseFrontmatter(t *testing.T) {
	parsed := Parse(haikuTemplate)

	if parsed.Model != "googleai/gemini-pro" {
		t.Errorf("Got model %q, want %q", parsed.Model, "googleai/gemini-pro")
	}
	if got := parsed.Config["temperature"]; got != 0.9 {
		t.Errorf("Got config temperature %v, want 0.9", got)
	}
	wantBody := "Write a haiku about {{topic}} in the style of {{poet}}.\nMention {{topic}} twice."
	if parsed.Body != wantBody {
		t.Errorf("Got body %q, want %q", parsed.Body, wantBody)
	}
	if diff := cmp.Diff([]string{"poet", "topic"}, parsed.Variables); diff != "" {
		t.Errorf("Variables diff (-want +got):\n%s", diff)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	parsed := Parse("Just a bare prompt about {{thing}}.")

	if parsed.Model != "" {
		t.Errorf("Got model %q for a bare prompt, want empty", parsed.Model)
	}
	if parsed.Body != "Just a bare prompt about {{thing}}." {
		t.Errorf("Got body %q, want the template unchanged", parsed.Body)
	}
	if diff := cmp.Diff([]string{"thing"}, parsed.Variables); diff != "" {
		t.Errorf("Variables diff (-want +got):\n%s", diff)
	}
}

func TestParseMalformedFrontmatterDegradesToBody(t *testing.T) {
	template := "---\nmodel: [unclosed\n---\nbody {{x}}"
	parsed := Parse(template)

	if parsed.Model != "" {
		t.Errorf("Got model %q from malformed frontmatter, want empty", parsed.Model)
	}
	if parsed.Body != template {
		t.Errorf("Got body %q, want the whole template preserved", parsed.Body)
	}
}

func TestParseUnterminatedFrontmatter(t *testing.T) {
	template := "---\nmodel: m\nno closing delimiter {{x}}"
	parsed := Parse(template)

	if parsed.Model != "" {
		t.Errorf("Got model %q from unterminated frontmatter, want empty", parsed.Model)
	}
	if parsed.Body != template {
		t.Errorf("Got body %q, want the whole template preserved", parsed.Body)
	}
}

func TestVariablesDeduplicates(t *testing.T) {
	got := Variables("{{a}} {{ b }} {{a}} {{user.name}}")
	if diff := cmp.Diff([]string{"a", "b", "user.name"}, got); diff != "" {
		t.Errorf("Variables diff (-want +got):\n%s", diff)
	}
}

func TestVariablesEmptyBody(t *testing.T) {
	if got := Variables("no placeholders here"); len(got) != 0 {
		t.Errorf("Got variables %v from a placeholder-free body, want none", got)
	}
}

func TestValidateVariables(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["topic"],
		"properties": {
			"topic": {"type": "string"}
		}
	}`

	if err := ValidateVariables(schema, map[string]any{"topic": "rivers"}); err != nil {
		t.Errorf("ValidateVariables with a conforming document: %v", err)
	}

	if err := ValidateVariables(schema, map[string]any{"topic": 42}); err == nil {
		t.Errorf("ValidateVariables accepted a non-string topic, want an error")
	}

	if err := ValidateVariables(schema, nil); err == nil {
		t.Errorf("ValidateVariables accepted a run missing a required variable, want an error")
	}
}

func TestValidateVariablesEmptySchemaAcceptsAnything(t *testing.T) {
	if err := ValidateVariables("", map[string]any{"whatever": true}); err != nil {
		t.Errorf("ValidateVariables with an empty schema: %v", err)
	}
}
