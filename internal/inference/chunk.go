package inference

import (
	"strings"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// charsPerToken is the rough chars-to-tokens ratio used for budgeting.
const charsPerToken = 4

// chunkSections packs document sections into chunks that stay under the
// token budget. Section boundaries are respected: small adjacent sections
// are batched together, a section larger than the whole budget is split at
// paragraph boundaries.
func chunkSections(sections []model.Section, tokenBudget int) []string {
	if tokenBudget <= 0 {
		tokenBudget = 2000
	}
	budgetChars := tokenBudget * charsPerToken

	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, sec := range sections {
		text := "## " + sec.Label + "\n" + sec.Text
		if len(text) > budgetChars {
			flush()
			chunks = append(chunks, splitOversized(text, budgetChars)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(text)+2 > budgetChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(text)
	}
	flush()

	return chunks
}

// splitOversized splits one oversized section at paragraph boundaries,
// falling back to a hard cut for a single paragraph that exceeds the budget.
func splitOversized(text string, budgetChars int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var cur strings.Builder
	for _, para := range paragraphs {
		for len(para) > budgetChars {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, para[:budgetChars])
			para = para[budgetChars:]
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > budgetChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
