package triage

import (
	"context"
	"testing"

	"alfred-ai/internal/domain"
)

func TestVariantContentVariantMapping(t *testing.T) {
	cases := map[Variant]domain.ContentVariant{
		VariantConversational: domain.VariantEpisode,
		VariantCode:           domain.VariantChunk,
		VariantDocument:       domain.VariantDocument,
		VariantFactual:        domain.VariantMemory,
		VariantSystem:         domain.VariantMemory,
	}
	for variant, want := range cases {
		if got := variant.ContentVariant(); got != want {
			t.Errorf("%s.ContentVariant() = %q, want %q", variant, got, want)
		}
	}
}

func TestAnalyzeShortCircuitsShortContent(t *testing.T) {
	c := New(nil)
	d, err := c.Analyze(context.Background(), "too short", Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Variant != VariantSystem || d.NeedsEntityExtraction || d.NeedsEpisodic {
		t.Errorf("expected short content to short-circuit, got %+v", d)
	}
}

func TestAnalyzeShortCircuitsSystemTagged(t *testing.T) {
	c := New(nil)
	text := "[DEBUG] request handled in 12ms for tenant acme with status 200 and no errors reported"
	d, err := c.Analyze(context.Background(), text, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Variant != VariantSystem {
		t.Errorf("expected system variant for debug-tagged content, got %+v", d)
	}
}

func TestAnalyzeDetectsFactualContent(t *testing.T) {
	c := New(nil)
	text := "Eventual consistency is a model that guarantees 99.9 percent availability across distributed nodes"
	d, err := c.Analyze(context.Background(), text, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !d.NeedsEpisodic {
		t.Errorf("expected definitional content to need episodic storage, got %+v", d)
	}
}

func TestAnalyzeDetectsEntities(t *testing.T) {
	c := New(nil)
	text := "John Smith works at Acme Corp in the San Francisco office building near the headquarters"
	d, err := c.Analyze(context.Background(), text, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !d.NeedsEntityExtraction {
		t.Errorf("expected proper-noun-heavy content to need entity extraction, got %+v", d)
	}
}

func TestAnalyzeDoesNotEscalateWithoutLLM(t *testing.T) {
	c := New(nil)
	text := "I think maybe this could possibly be relevant to something at some point perhaps"
	d, err := c.Analyze(context.Background(), text, Options{AllowLLMEscalation: true})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Reason != "heuristic" {
		t.Errorf("expected heuristic reason with no LLM configured, got %q", d.Reason)
	}
}
