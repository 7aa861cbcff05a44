package vectorstore

import "context"

// Entry is one embedded chunk handed to the store. The store assigns and
// returns the opaque vector ids.
type Entry struct {
	DocumentID string
	Content    string
	Vector     []float32
	Metadata   map[string]string
}

// Result is a ranked similarity-search hit.
type Result struct {
	VectorID   string
	DocumentID string
	Content    string
	Score      float32
	Metadata   map[string]string
}

// Store is the embedding store capability: batch insert, batch delete, and
// nearest-neighbor search with a score threshold and optional metadata
// filter. Implementations are swappable behind this contract.
type Store interface {
	Add(ctx context.Context, entries []Entry) ([]string, error)
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, vector []float32, topK int, threshold float32, filter map[string]string) ([]Result, error)
}
