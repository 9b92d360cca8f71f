// Package triage classifies incoming writes into a content variant and
// decides whether they warrant entity extraction and episodic graph
// storage, using a fast regex heuristic with optional LLM escalation on
// low confidence.
package triage

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"alfred-ai/internal/domain"
)

// Variant classifies the kind of content triaged.
type Variant string

const (
	VariantConversational Variant = "conversational"
	VariantFactual         Variant = "factual"
	VariantCode            Variant = "code"
	VariantDocument        Variant = "document"
	VariantSystem          Variant = "system"
)

// Decision is the outcome of analyzing a piece of content.
type Decision struct {
	NeedsEntityExtraction bool
	NeedsEpisodic         bool
	Variant               Variant
	Confidence            float64
	Reason                string
}

// ContentVariant maps the triage classifier's own content-shape vocabulary
// onto domain.ContentVariant, for callers that store a node without
// specifying its variant explicitly.
func (v Variant) ContentVariant() domain.ContentVariant {
	switch v {
	case VariantConversational:
		return domain.VariantEpisode
	case VariantCode:
		return domain.VariantChunk
	case VariantDocument:
		return domain.VariantDocument
	default: // VariantFactual, VariantSystem
		return domain.VariantMemory
	}
}

const (
	shortContentCutoff = 50
	entityThreshold    = 0.4
	factThreshold      = 0.5
)

var (
	properNounRe   = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
	techOrgRe      = regexp.MustCompile(`(?i)\b(Inc|Corp|LLC|Ltd|API|SDK|framework|library|company|organization)\b`)
	locationRe     = regexp.MustCompile(`(?i)\b(street|avenue|city|country|building|office|headquarters)\b`)
	relationVerbRe = regexp.MustCompile(`(?i)\b(works? (at|for)|reports? to|manages|founded|acquired|married to|located in)\b`)
	definitionRe   = regexp.MustCompile(`(?i)\b(is (a|an|the)|refers to|means|defined as)\b`)
	quantityRe     = regexp.MustCompile(`\b\d+(\.\d+)?\s?(%|percent|million|billion|thousand|kg|km|hours?|days?)\b`)

	debugTagRe = regexp.MustCompile(`^\s*\[(DEBUG|INFO|WARN|ERROR|TRACE)\]`)
	envLineRe  = regexp.MustCompile(`^[A-Z][A-Z0-9_]*=\S+$`)
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
)

// Classifier runs the heuristic-first triage policy, escalating to an LLM
// only when the heuristic's confidence is low and a provider is configured.
type Classifier struct {
	llm domain.LLMProvider
}

// New constructs a Classifier. llm may be nil to disable escalation.
func New(llm domain.LLMProvider) *Classifier {
	return &Classifier{llm: llm}
}

// Options tunes an Analyze call.
type Options struct {
	AllowLLMEscalation bool
}

// Analyze classifies text per the heuristic-first policy, escalating to the
// LLM classifier only when confidence stays below 0.75 and escalation is
// both requested and available.
func (c *Classifier) Analyze(ctx context.Context, text string, opts Options) (Decision, error) {
	if isSystemTagged(text) || len(strings.TrimSpace(text)) < shortContentCutoff {
		return Decision{Variant: VariantSystem, Confidence: 0.95, Reason: "short or system-tagged content short-circuits to no extraction"}, nil
	}

	entityScore, factScore := heuristicScores(text)
	needsEntity := entityScore >= entityThreshold
	needsEpisodic := needsEntity || factScore >= factThreshold
	confidence := heuristicConfidence(entityScore, factScore)
	variant := classifyVariant(text, entityScore, factScore)
	reason := "heuristic"

	if confidence < 0.75 && opts.AllowLLMEscalation && c.llm != nil {
		if d, ok := c.escalate(ctx, text); ok {
			return d, nil
		}
	}

	return Decision{
		NeedsEntityExtraction: needsEntity,
		NeedsEpisodic:         needsEpisodic,
		Variant:               variant,
		Confidence:            confidence,
		Reason:                reason,
	}, nil
}

func isSystemTagged(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if debugTagRe.MatchString(line) || envLineRe.MatchString(line) || timestampRe.MatchString(line) {
			return true
		}
	}
	return false
}

// heuristicScores computes weighted entity/fact scores from regex category
// matches. Weights are chosen so any two strong signals alone clear the
// 0.4/0.5 decision thresholds.
func heuristicScores(text string) (entityScore, factScore float64) {
	categories := []struct {
		re             *regexp.Regexp
		entityW, factW float64
	}{
		{properNounRe, 0.25, 0.05},
		{techOrgRe, 0.25, 0.05},
		{locationRe, 0.20, 0.05},
		{relationVerbRe, 0.30, 0.15},
		{definitionRe, 0.05, 0.35},
		{quantityRe, 0.05, 0.35},
	}
	for _, cat := range categories {
		if cat.re.MatchString(text) {
			entityScore += cat.entityW
			factScore += cat.factW
		}
	}
	if entityScore > 1 {
		entityScore = 1
	}
	if factScore > 1 {
		factScore = 1
	}
	return entityScore, factScore
}

func heuristicConfidence(entityScore, factScore float64) float64 {
	max := entityScore
	if factScore > max {
		max = factScore
	}
	switch {
	case max >= 0.7 || max <= 0.2:
		return 0.9
	case max >= 0.4:
		return 0.8
	default:
		return 0.65
	}
}

func classifyVariant(text string, entityScore, factScore float64) Variant {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "func ") || strings.Contains(lower, "class ") || strings.Contains(lower, "import ") || strings.Contains(lower, "def "):
		return VariantCode
	case factScore >= factThreshold:
		return VariantFactual
	case entityScore >= entityThreshold:
		return VariantDocument
	default:
		return VariantConversational
	}
}

type llmTriageResult struct {
	NeedsEntityExtraction bool    `json:"needs_entity_extraction"`
	NeedsEpisodic         bool    `json:"needs_episodic"`
	Variant               Variant `json:"variant"`
	Confidence            float64 `json:"confidence"`
	Reason                string  `json:"reason"`
}

func (c *Classifier) escalate(ctx context.Context, text string) (Decision, bool) {
	prompt := "Classify this content for memory triage. Respond with JSON: " +
		`{"needs_entity_extraction": bool, "needs_episodic": bool, "variant": "conversational|factual|code|document|system", "confidence": 0-1, "reason": "..."}` +
		"\n\nContent:\n" + text

	resp, err := c.llm.Chat(ctx, domain.ChatRequest{
		Messages:    []domain.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return Decision{}, false
	}

	var parsed llmTriageResult
	if json.Unmarshal([]byte(resp.Message.Content), &parsed) != nil {
		return Decision{}, false
	}
	return Decision{
		NeedsEntityExtraction: parsed.NeedsEntityExtraction,
		NeedsEpisodic:         parsed.NeedsEpisodic,
		Variant:               parsed.Variant,
		Confidence:            parsed.Confidence,
		Reason:                "llm: " + parsed.Reason,
	}, true
}
