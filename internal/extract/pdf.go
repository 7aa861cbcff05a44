package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF strips plain text page by page using the local reader. Lower
// fidelity than the layout analyzer: no table structure, no key/value pairs.
func extractPDF(data []byte, filename string) ([]Unit, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf %q: %v", ErrExtraction, filename, err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: pdf %q has no pages", ErrExtraction, filename)
	}

	units := make([]Unit, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page degrades to an empty unit rather
			// than failing the whole document.
			text = ""
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, Unit{
			Content: text,
			Metadata: map[string]string{
				"source":             filename,
				"file_type":          "pdf",
				"page_number":        strconv.Itoa(i),
				"extraction_backend": BackendLocalPDF,
			},
		})
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: pdf %q has no extractable text", ErrExtraction, filename)
	}
	return units, nil
}
