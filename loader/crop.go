package loader

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Crop trims running headers and footers off every page before extraction.
// Top and Bottom are in points (1 pt = 1/72 inch). Zero values disable it.
type Crop struct {
	Top    float64
	Bottom float64
}

func (c Crop) Enabled() bool { return c.Top > 0 || c.Bottom > 0 }

func (c Crop) Box() (*pdfmodel.Box, error) {
	box, err := pdfmodel.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", c.Top, c.Bottom), pdftypes.POINTS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crop box: %w", err)
	}
	return box, nil
}

// Apply returns a cropped copy of the PDF, or r itself when cropping is off.
func (c Crop) Apply(r io.ReadSeeker) (io.ReadSeeker, error) {
	if !c.Enabled() {
		return r, nil
	}
	box, err := c.Box()
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := api.Crop(r, &out, []string{"1-"}, box, newConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to crop PDF: %w", err)
	}
	return bytes.NewReader(out.Bytes()), nil
}
