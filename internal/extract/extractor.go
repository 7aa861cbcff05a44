package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ErrExtraction marks an unreadable resource or a backend that rejected the
// format.
var ErrExtraction = errors.New("extraction failed")

// Extraction backends reported in unit metadata. Exactly one backend handles
// a given document; they are never mixed.
const (
	BackendMarkdown       = "markdown"
	BackendLocalPDF       = "local_pdf"
	BackendLayoutAnalyzer = "layout_analyzer"
)

// Unit is one logical extracted block: a page for PDFs, the whole file for
// Markdown, plus optional synthetic units such as extracted key/value pairs.
type Unit struct {
	Content  string
	Metadata map[string]string
}

// Service selects an extraction backend per document: the high-fidelity
// layout analyzer when enabled, the local PDF stripper otherwise, and the
// plain reader for Markdown.
type Service struct {
	analyzer *LayoutAnalyzer
}

func NewService(analyzer *LayoutAnalyzer) *Service {
	return &Service{analyzer: analyzer}
}

func (s *Service) Extract(ctx context.Context, data []byte, filename string) ([]Unit, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty resource %q", ErrExtraction, filename)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return extractMarkdown(data, filename)
	case ".pdf":
		if s.analyzer != nil && s.analyzer.Enabled() {
			log.WithField("filename", filename).Info("extracting with layout analyzer")
			return s.analyzer.Analyze(ctx, data, filename)
		}
		log.WithField("filename", filename).Info("extracting with local pdf stripper")
		return extractPDF(data, filename)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrExtraction, ext)
	}
}
