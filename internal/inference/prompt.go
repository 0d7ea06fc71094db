package inference

import (
	"fmt"
	"strings"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// BuildSystemPrompt renders the extraction instructions and field schema.
// The prompt is identical for every chunk in a run, which makes it a good
// prompt-cache target.
func BuildSystemPrompt(reg *model.FieldRegistry) string {
	var sb strings.Builder
	sb.WriteString(`You extract structured facts about flight schools from web page and document text.

Rules:
- Only report a field when the text states it. Never guess or interpolate.
- If the text does not support a field, omit it entirely.
- Confidence is 0.0-1.0: how certain you are the stated value is what the text says.
- Prices are USD numbers without symbols. Hours and counts are plain numbers.

Fields you may report:
`)
	for _, spec := range reg.Specs {
		sb.WriteString("- ")
		sb.WriteString(spec.Key)
		sb.WriteString(" (")
		sb.WriteString(string(spec.Type))
		if spec.Type == model.FieldEnum {
			sb.WriteString(": one of ")
			sb.WriteString(strings.Join(spec.Enum, ", "))
		}
		sb.WriteString(")\n")
	}

	sb.WriteString(`
Respond with a single JSON object and nothing else:
{"fields": [{"name": "<field key>", "value": <value>, "confidence": <0.0-1.0>}]}
An empty fields array is a valid answer.`)
	return sb.String()
}

// buildUserPrompt wraps the chunk text. strict repeats the format contract
// after a malformed first attempt.
func buildUserPrompt(chunkText string, strict bool) string {
	var sb strings.Builder
	if strict {
		sb.WriteString("Your previous response was not valid JSON. ")
		sb.WriteString("Respond with ONLY the JSON object, no markdown fences, no commentary.\n\n")
	}
	fmt.Fprintf(&sb, "Text:\n%s", chunkText)
	return sb.String()
}
