package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// htmlSections strips boilerplate with readability, then segments the
// cleaned article at h1-h3 boundaries. Text before the first heading lands
// in an "overview" section.
func htmlSections(htmlContent string) ([]model.Section, error) {
	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err != nil {
		return nil, eris.Wrap(err, "extract: readability parse")
	}

	sections, err := segment(article.Content)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		text := strings.TrimSpace(article.TextContent)
		if text == "" {
			return nil, eris.New("extract: no text content in document")
		}
		sections = []model.Section{{Label: "overview", Text: text}}
	}
	return sections, nil
}

// segment walks the cleaned article HTML in document order, opening a new
// section at each h1-h3 and appending block text to the current one.
func segment(articleHTML string) ([]model.Section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse cleaned article")
	}

	var sections []model.Section
	current := model.Section{Label: "overview"}
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			current.Text = text
			sections = append(sections, current)
		}
		buf = nil
	}

	doc.Find("h1, h2, h3, p, li, blockquote, pre, td").Each(func(_ int, sel *goquery.Selection) {
		switch goquery.NodeName(sel) {
		case "h1", "h2", "h3":
			flush()
			current = model.Section{Label: sectionLabel(sel.Text())}
		default:
			// Skip containers whose text is already covered by a nested block.
			if sel.Find("p, li").Length() > 0 {
				return
			}
			if text := strings.TrimSpace(sel.Text()); text != "" {
				buf = append(buf, text)
			}
		}
	})
	flush()

	return sections, nil
}

// sectionLabel normalizes a heading into a stable section label.
func sectionLabel(heading string) string {
	label := strings.ToLower(strings.TrimSpace(heading))
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return "untitled"
	}
	if len(label) > 80 {
		label = label[:80]
	}
	return label
}
