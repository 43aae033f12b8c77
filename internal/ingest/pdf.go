package ingest

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFReader extracts plain text from each page of a PDF.
type PDFReader struct{}

// ReadPages implements PageReader. Pages without content yield an empty
// string so page numbers stay aligned with the source file.
func (PDFReader) ReadPages(ctx context.Context, path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
