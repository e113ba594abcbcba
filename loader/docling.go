package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"docqa/types"
)

type DoclingResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}

// DoclingExtractor converts the PDF to markdown with a Docling server.
// Metadata still comes from pdfcpu. Docling output has no page breaks, so
// the whole text is reported as one section.
type DoclingExtractor struct {
	url    string
	crop   Crop
	client *http.Client
}

func NewDoclingExtractor(url string, crop Crop) *DoclingExtractor {
	if url == "" {
		url = "http://localhost:5001/v1/convert/file"
	}
	return &DoclingExtractor{
		url:    url,
		crop:   crop,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (d *DoclingExtractor) Extract(ctx context.Context, r io.ReadSeeker) (string, types.Metadata, error) {
	r, err := d.crop.Apply(r)
	if err != nil {
		return "", types.Metadata{}, err
	}
	meta, err := ReadMetadata(r)
	if err != nil {
		return "", types.Metadata{}, err
	}
	data, err := readAllSeeker(r)
	if err != nil {
		return "", types.Metadata{}, err
	}

	md, err := d.convert(ctx, data)
	if err != nil {
		return "", types.Metadata{}, err
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return "", meta, nil
	}
	return "--- Page 1 ---\n" + md, meta, nil
}

func (d *DoclingExtractor) convert(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", "document.pdf")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("docling request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("docling returned status %d", resp.StatusCode)
	}

	var dr DoclingResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return "", fmt.Errorf("decode docling response: %w", err)
	}
	return dr.Document.MdContent, nil
}
