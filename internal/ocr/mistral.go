package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "pixtral-large-latest"
	pageSeparator       = "\n\n"
)

// MistralOCR extracts text from scanned PDFs via the Mistral OCR API. The
// document goes up as a base64 data URL; the API returns per-page markdown.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR extractor. An empty model selects the
// default.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{},
	}
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResult struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText implements Extractor.
func (m *MistralOCR) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	payload, err := json.Marshal(ocrRequest{
		Model: m.model,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal mistral request")
	}

	result, err := m.post(ctx, payload)
	if err != nil {
		return "", err
	}

	pages := make([]string, len(result.Pages))
	for i, p := range result.Pages {
		pages[i] = p.Markdown
	}
	return strings.Join(pages, pageSeparator), nil
}

func (m *MistralOCR) post(ctx context.Context, payload []byte) (*ocrResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, string(body))
	}

	var result ocrResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	return &result, nil
}
