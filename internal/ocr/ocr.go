// Package ocr extracts text from PDF artifacts. The local pdftotext binary
// is the default path; the Mistral OCR API handles scanned documents that
// carry no text layer.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
)

// Extractor extracts text from an in-memory PDF document.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
