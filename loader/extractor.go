// Package loader turns uploaded PDF bytes into plain text plus document
// metadata.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"docqa/types"
)

// Extractor reads a PDF and returns its text and metadata. Non-empty pages
// are introduced by a "--- Page N ---" line.
type Extractor interface {
	Extract(ctx context.Context, r io.ReadSeeker) (string, types.Metadata, error)
}

type Config struct {
	Type       string // pdfcpu or docling
	DoclingURL string
	CropTop    float64 // points trimmed from the top of every page
	CropBottom float64
}

func NewExtractor(cfg Config) (Extractor, error) {
	crop := Crop{Top: cfg.CropTop, Bottom: cfg.CropBottom}
	switch cfg.Type {
	case "pdfcpu", "":
		return NewPDFExtractor(crop), nil
	case "docling":
		return NewDoclingExtractor(cfg.DoclingURL, crop), nil
	default:
		return nil, fmt.Errorf("unknown extractor: %s", cfg.Type)
	}
}

// PDFExtractor decodes page text with ledongthuc/pdf, which applies font
// encodings and ToUnicode maps. pdfcpu validates the file, crops it and
// reads the document info.
type PDFExtractor struct {
	crop   Crop
	logger *slog.Logger
}

func NewPDFExtractor(crop Crop) *PDFExtractor {
	return &PDFExtractor{
		crop:   crop,
		logger: slog.Default(),
	}
}

func (e *PDFExtractor) Extract(ctx context.Context, r io.ReadSeeker) (string, types.Metadata, error) {
	r, err := e.crop.Apply(r)
	if err != nil {
		return "", types.Metadata{}, err
	}

	pdfCtx, err := readContext(r)
	if err != nil {
		return "", types.Metadata{}, err
	}
	meta := metadataOf(pdfCtx)

	data, err := readAllSeeker(r)
	if err != nil {
		return "", types.Metadata{}, fmt.Errorf("read pdf: %w", err)
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", types.Metadata{}, fmt.Errorf("open pdf text: %w", err)
	}

	var text strings.Builder
	for n := 1; n <= doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", types.Metadata{}, err
		}
		page := doc.Page(n)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("[EXTRACT] skipping unreadable page", "page", n, "err", err)
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		fmt.Fprintf(&text, "\n--- Page %d ---\n%s", n, pageText)
	}
	return strings.TrimSpace(text.String()), meta, nil
}

func newConfiguration() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

func readContext(r io.ReadSeeker) (*pdfmodel.Context, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pdfCtx, err := api.ReadContext(r, newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
	return pdfCtx, nil
}

func metadataOf(pdfCtx *pdfmodel.Context) types.Metadata {
	return types.Metadata{
		Pages:   pdfCtx.PageCount,
		Title:   pdfCtx.Title,
		Author:  pdfCtx.Author,
		Subject: pdfCtx.Subject,
	}
}

// ReadMetadata returns page count and document info without extracting text.
func ReadMetadata(r io.ReadSeeker) (types.Metadata, error) {
	pdfCtx, err := readContext(r)
	if err != nil {
		return types.Metadata{}, err
	}
	return metadataOf(pdfCtx), nil
}

func readAllSeeker(r io.ReadSeeker) ([]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
