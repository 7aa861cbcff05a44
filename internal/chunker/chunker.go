package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"bankchat/internal/extract"
)

type Config struct {
	ChunkSize    int // target window, in tokens
	ChunkOverlap int // tokens shared between consecutive chunks
	MinChunkSize int // chunks below this are dropped
	MaxChunkSize int // hard ceiling, in tokens
}

// Chunk carries a bounded slice of a document plus the source unit's
// metadata, a sequential per-document index, and the owning document id.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	TokenCount int
	Metadata   map[string]string
}

var sentenceSplitter = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)

// Chunker splits extracted units into overlapping token windows, preferring
// paragraph then sentence boundaries before hard word cuts. Splitting is a
// pure function of input and configuration: identical input always yields an
// identical chunk sequence, which is what makes re-ingestion checks cheap.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 5
	}
	if cfg.MaxChunkSize < cfg.ChunkSize {
		cfg.MaxChunkSize = 10000
	}
	return &Chunker{cfg: cfg}
}

// Split chunks every unit of one document. Chunk indexes are 0-based and
// sequential across units.
func (c *Chunker) Split(documentID string, units []extract.Unit) []Chunk {
	var chunks []Chunk
	for _, unit := range units {
		for _, content := range c.splitText(unit.Content) {
			metadata := make(map[string]string, len(unit.Metadata)+2)
			for k, v := range unit.Metadata {
				metadata[k] = v
			}
			metadata["source_document_id"] = documentID
			metadata["chunk_index"] = strconv.Itoa(len(chunks))

			chunks = append(chunks, Chunk{
				DocumentID: documentID,
				Index:      len(chunks),
				Content:    content,
				TokenCount: EstimateTokens(content),
				Metadata:   metadata,
			})
		}
	}
	return chunks
}

// splitText packs boundary-aligned segments into windows of at most
// ChunkSize tokens, carrying ChunkOverlap trailing tokens into the next
// window.
func (c *Chunker) splitText(text string) []string {
	segments := c.segments(text)
	if len(segments) == 0 {
		return nil
	}

	var out []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, " ")
		if tokenWords(content) >= c.cfg.MinChunkSize {
			out = append(out, content)
		}
		// Seed the next window with the overlap tail.
		tail := overlapTail(content, c.cfg.ChunkOverlap)
		current = current[:0]
		currentTokens = 0
		if tail != "" {
			current = append(current, tail)
			currentTokens = tokenWords(tail)
		}
	}

	for _, segment := range segments {
		segTokens := tokenWords(segment)
		if currentTokens > 0 && currentTokens+segTokens > c.cfg.ChunkSize {
			flush()
		}
		current = append(current, segment)
		currentTokens += segTokens
		if currentTokens >= c.cfg.MaxChunkSize {
			flush()
		}
	}
	if len(current) > 0 {
		content := strings.Join(current, " ")
		if tokenWords(content) >= c.cfg.MinChunkSize && !isOverlapOnly(out, content, c.cfg.ChunkOverlap) {
			out = append(out, content)
		}
	}
	return out
}

// segments breaks text at paragraph boundaries, falling back to sentences
// and then to hard word cuts for oversized pieces.
func (c *Chunker) segments(text string) []string {
	var segments []string
	for _, paragraph := range splitParagraphs(text) {
		if tokenWords(paragraph) <= c.cfg.ChunkSize {
			segments = append(segments, paragraph)
			continue
		}
		for _, sentence := range splitSentences(paragraph) {
			if tokenWords(sentence) <= c.cfg.ChunkSize {
				segments = append(segments, sentence)
				continue
			}
			segments = append(segments, hardSplit(sentence, c.cfg.ChunkSize)...)
		}
	}
	return segments
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitter.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}

func hardSplit(text string, size int) []string {
	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

func overlapTail(content string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	words := strings.Fields(content)
	if len(words) <= overlap {
		return ""
	}
	return strings.Join(words[len(words)-overlap:], " ")
}

// isOverlapOnly drops a trailing window that holds nothing beyond the
// overlap already emitted with the previous chunk.
func isOverlapOnly(emitted []string, content string, overlap int) bool {
	if len(emitted) == 0 {
		return false
	}
	previous := emitted[len(emitted)-1]
	return overlapTail(previous, overlap) == content
}

func tokenWords(text string) int {
	return len(strings.Fields(text))
}

// EstimateTokens approximates the token count of a chunk for bookkeeping.
func EstimateTokens(text string) int {
	return int(float64(tokenWords(text)) * 1.3)
}
