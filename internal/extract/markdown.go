package extract

import (
	"fmt"
	"unicode/utf8"
)

// extractMarkdown reads the whole file as a single unit.
func extractMarkdown(data []byte, filename string) ([]Unit, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %q is not valid utf-8", ErrExtraction, filename)
	}
	return []Unit{
		{
			Content: string(data),
			Metadata: map[string]string{
				"source":             filename,
				"file_type":          "markdown",
				"extraction_backend": BackendMarkdown,
			},
		},
	}, nil
}
