package loader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helvetica = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"

// buildPDF writes a minimal PDF with one content stream per page.
func buildPDF(title, author string, pages ...string) []byte {
	return writePDF(title, author, helvetica, pages)
}

func buildPDFWithFont(font string, pages ...string) []byte {
	return writePDF("Fonts", "Tester", font, pages)
}

func writePDF(title, author, font string, pages []string) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	const firstPage = 5
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj(font)
	obj(fmt.Sprintf("<< /Title (%s) /Author (%s) /Subject (Testing) >>", title, author))
	for i, content := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", firstPage+2*i+1))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPDFExtractor(t *testing.T) {
	pdf := buildPDF("Energy", "Jane Roe",
		"BT /F1 12 Tf 14 TL 72 720 Td (Solar panels convert light.) Tj T* (They need sun.) Tj ET",
		"q Q",
		"BT /F1 12 Tf 72 720 Td [(Wind ) -250 (power)] TJ ET",
	)

	text, meta, err := NewPDFExtractor(Crop{}).Extract(context.Background(), bytes.NewReader(pdf))
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Pages)
	assert.Equal(t, "Energy", meta.Title)
	assert.Equal(t, "Jane Roe", meta.Author)
	assert.Equal(t, "Testing", meta.Subject)
	assert.True(t, strings.HasPrefix(text, "--- Page 1 ---\n"), text)
	assert.Contains(t, text, "Solar panels convert light.\nThey need sun.")
	assert.Contains(t, text, "\n--- Page 3 ---\nWind power")
	assert.NotContains(t, text, "--- Page 2 ---")
}

func TestPDFExtractor_Differences(t *testing.T) {
	// code 0x01 is remapped to "A" by the font's encoding
	pdf := buildPDFWithFont(
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding << /Type /Encoding /Differences [1 /A] >> >>",
		"BT /F1 12 Tf 72 720 Td <01> Tj (pple) Tj ET",
	)

	text, meta, err := NewPDFExtractor(Crop{}).Extract(context.Background(), bytes.NewReader(pdf))
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Pages)
	assert.Equal(t, "--- Page 1 ---\nApple", text)
}

func TestPDFExtractor_NotAPDF(t *testing.T) {
	_, _, err := NewPDFExtractor(Crop{}).Extract(context.Background(), strings.NewReader("plain text"))
	assert.Error(t, err)
}

func TestCrop(t *testing.T) {
	assert.False(t, Crop{}.Enabled())
	assert.True(t, Crop{Top: 40}.Enabled())

	r := strings.NewReader("x")
	out, err := Crop{}.Apply(r)
	require.NoError(t, err)
	assert.Same(t, r, out)

	box, err := Crop{Top: 40, Bottom: 30}.Box()
	require.NoError(t, err)
	assert.NotNil(t, box)
}

func TestNewExtractor(t *testing.T) {
	e, err := NewExtractor(Config{})
	require.NoError(t, err)
	assert.IsType(t, &PDFExtractor{}, e)

	e, err = NewExtractor(Config{Type: "docling"})
	require.NoError(t, err)
	assert.IsType(t, &DoclingExtractor{}, e)

	_, err = NewExtractor(Config{Type: "ocr"})
	assert.Error(t, err)
}

func TestDoclingExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		f.Close()
		w.Write([]byte(`{"document":{"md_content":"# Energy\n\nSolar panels convert light."}}`))
	}))
	defer srv.Close()

	pdf := buildPDF("Energy", "Jane Roe", "BT (ignored) Tj ET")
	text, meta, err := NewDoclingExtractor(srv.URL, Crop{}).Extract(context.Background(), bytes.NewReader(pdf))
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Pages)
	assert.Equal(t, "--- Page 1 ---\n# Energy\n\nSolar panels convert light.", text)
}
