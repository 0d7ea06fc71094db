// Package extract turns raw fetched artifacts into cleaned, section-tagged
// documents. HTML goes through readability boilerplate stripping and
// heading-delimited segmentation; PDFs go through the ocr package with an
// OCR fallback for scanned documents.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/ocr"
)

// Stage converts RawArtifacts into ExtractedDocuments.
type Stage struct {
	cfg      config.ExtractConfig
	pdfLocal ocr.Extractor
	pdfOCR   ocr.Extractor
	now      func() time.Time
}

// NewStage creates an extraction stage. pdfOCR is the fallback for scanned
// PDFs and may be nil when no OCR provider is configured.
func NewStage(cfg config.ExtractConfig, pdfLocal, pdfOCR ocr.Extractor) *Stage {
	return &Stage{cfg: cfg, pdfLocal: pdfLocal, pdfOCR: pdfOCR, now: time.Now}
}

// Extract produces the immutable ExtractedDocument for one artifact. Thin or
// noisy text is flagged low_quality but still forwarded; deciding what to do
// with it belongs downstream.
func (s *Stage) Extract(ctx context.Context, art model.RawArtifact, body []byte) (model.ExtractedDocument, error) {
	var sections []model.Section
	var err error

	switch art.ContentType {
	case "text/html", "application/xhtml+xml":
		sections, err = htmlSections(string(body))
	case "application/pdf":
		sections, err = s.pdfSections(ctx, body)
	case "text/plain":
		sections = []model.Section{{Label: "overview", Text: strings.TrimSpace(string(body))}}
	default:
		err = eris.Errorf("extract: unsupported content type %q", art.ContentType)
	}
	if err != nil {
		return model.ExtractedDocument{}, eris.Wrapf(err, "extract: artifact %s", art.ContentHash)
	}

	doc := model.ExtractedDocument{
		SnapshotID:  art.SnapshotID,
		SourceID:    art.SourceID,
		SeedID:      art.SeedID,
		URL:         art.URL,
		ContentHash: art.ContentHash,
		Sections:    sections,
		ExtractedAt: s.now().UTC(),
	}
	doc.Quality = scoreQuality(doc, s.cfg)
	doc.LowQuality = doc.Quality.Chars < s.cfg.MinChars ||
		doc.Quality.InkRatio < s.cfg.MinInkRatio ||
		doc.Quality.Score < s.cfg.QualityMinScore

	if doc.LowQuality {
		zap.L().Named("extract").Warn("low quality extraction",
			zap.String("seed", art.SeedID),
			zap.String("url", art.URL),
			zap.Int("chars", doc.Quality.Chars),
			zap.Float64("ink_ratio", doc.Quality.InkRatio),
		)
	}
	return doc, nil
}

// pdfSections extracts PDF text locally, falling back to the OCR provider
// when the text layer is too thin relative to the document size (scanned
// pages yield near-zero density from pdftotext).
func (s *Stage) pdfSections(ctx context.Context, pdf []byte) ([]model.Section, error) {
	text, err := s.pdfLocal.ExtractText(ctx, pdf)
	if err != nil && s.pdfOCR == nil {
		return nil, err
	}

	density := 0.0
	if len(pdf) > 0 {
		density = float64(len(strings.TrimSpace(text))) / float64(len(pdf))
	}

	if (err != nil || density < s.cfg.MinPDFDensity) && s.pdfOCR != nil {
		ocrText, ocrErr := s.pdfOCR.ExtractText(ctx, pdf)
		if ocrErr != nil {
			if err != nil {
				return nil, eris.Wrap(err, "extract: pdf text and ocr fallback both failed")
			}
			zap.L().Named("extract").Warn("ocr fallback failed, keeping sparse text", zap.Error(ocrErr))
		} else {
			text = ocrText
		}
	}

	return []model.Section{{Label: "document", Text: strings.TrimSpace(text)}}, nil
}

// scoreQuality computes character count, ink ratio, and a 0-1 composite.
func scoreQuality(doc model.ExtractedDocument, cfg config.ExtractConfig) model.TextQuality {
	var total, ink int
	for _, sec := range doc.Sections {
		for _, r := range sec.Text {
			total++
			if !isSpaceRune(r) {
				ink++
			}
		}
	}

	q := model.TextQuality{Chars: total}
	if total > 0 {
		q.InkRatio = float64(ink) / float64(total)
	}

	// Composite saturates at twice the minimum char threshold.
	sat := float64(cfg.MinChars * 2)
	if sat <= 0 {
		sat = 1000
	}
	volume := float64(total) / sat
	if volume > 1 {
		volume = 1
	}
	q.Score = volume * q.InkRatio
	return q
}

func isSpaceRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
