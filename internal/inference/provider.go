// Package inference runs LLM field extraction over extracted documents:
// section-aware chunking under a token budget, content-hash caching, a
// provider chain with circuit breaking, and schema validation at the stage
// boundary. A model that cannot find a field abstains; abstention is data,
// not an error.
package inference

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// FieldResult is one field the model claims to have found in a chunk.
type FieldResult struct {
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ProviderResult is the parsed output of one provider call for one chunk.
type ProviderResult struct {
	Fields    []FieldResult `json:"fields"`
	RawOutput string        `json:"raw_output"`
	Provider  string        `json:"provider"`
}

// Provider performs field extraction for a single chunk of text. strict
// requests a more forceful output-format instruction, used after a
// malformed first response.
type Provider interface {
	Name() string
	Extract(ctx context.Context, chunkText string, strict bool) (*ProviderResult, error)
}

// parseProviderOutput parses model output into field results. Malformed
// output is a permanent error; retrying the identical prompt is pointless,
// the caller escalates to a stricter prompt instead.
func parseProviderOutput(provider, raw string) (*ProviderResult, error) {
	cleaned := cleanJSON(raw)

	var parsed struct {
		Fields []FieldResult `json:"fields"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrapf(err, "inference: %s returned malformed output", provider),
			resilience.ReasonMalformedOutput,
		)
	}

	// Clamp confidences into [0,1]; models occasionally emit 85 for 0.85.
	for i := range parsed.Fields {
		c := parsed.Fields[i].Confidence
		if c > 1 && c <= 100 {
			c = c / 100
		}
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		parsed.Fields[i].Confidence = c
	}

	return &ProviderResult{
		Fields:    parsed.Fields,
		RawOutput: raw,
		Provider:  provider,
	}, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
