package retrieval

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"bankchat/internal/vectorstore"
)

// NoContextSentinel is returned by BuildContext for an empty retrieval.
// Callers treat it as "the documents hold no answer", not as a fault.
const NoContextSentinel = "No relevant documents were found."

const contextHeader = "Context from bank documents:"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	TopK                int
	SimilarityThreshold float32
}

// Engine executes similarity search over the embedding store and assembles
// the retrieved chunks into a prompt context block.
type Engine struct {
	store    vectorstore.Store
	embedder Embedder
	cfg      Config
}

func NewEngine(store vectorstore.Store, embedder Embedder, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	return &Engine{store: store, embedder: embedder, cfg: cfg}
}

// Retrieve returns at most TopK chunk contents above the similarity
// threshold, best first. An unreachable store or embedder degrades to an
// empty result; retrieval never fails the conversation turn.
func (e *Engine) Retrieve(ctx context.Context, query string, category string) []string {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		log.WithError(err).Warn("query embedding failed, retrieval degraded to empty")
		return nil
	}

	var filter map[string]string
	if category != "" {
		filter = map[string]string{"category": category}
	}

	results, err := e.store.Search(ctx, vector, e.cfg.TopK, e.cfg.SimilarityThreshold, filter)
	if err != nil {
		log.WithError(err).Warn("similarity search failed, retrieval degraded to empty")
		return nil
	}

	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	log.WithField("count", len(contents)).Debug("retrieved relevant chunks")
	return contents
}

// BuildContext renders retrieved chunks into the numbered context block fed
// to the model. The output is a deterministic function of its input.
func (e *Engine) BuildContext(chunks []string) string {
	if len(chunks) == 0 {
		return NoContextSentinel
	}

	var sb strings.Builder
	sb.WriteString(contextHeader)
	sb.WriteString("\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "Document %d:\n%s\n\n", i+1, chunk)
	}
	return sb.String()
}
