package prompt

import (
	"strings"
	"testing"
)

func TestRenderInvestorDescription(t *testing.T) {
	out, err := DefaultPromptBuilder().Render(TemplateInvestorDescription, InvestorDescriptionData{
		Name:         `Alpha "Capital"`,
		Type:         "VC",
		Website:      "https://alpha.example.com",
		Description:  "Early stage fund.\nBacks infra.",
		MaxSentences: 3,
		MaxChars:     400,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		`name: "Alpha \"Capital\""`,
		`website: "https://alpha.example.com"`,
		"  Early stage fund.\n  Backs infra.",
		"At most 3 sentences and 400 characters",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := NewPromptBuilder().Render("missing.yaml", nil); err == nil {
		t.Fatalf("expected error for unknown template")
	}
}
