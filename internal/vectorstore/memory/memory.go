package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"bankchat/internal/vectorstore"
)

type record struct {
	id       string
	document string
	content  string
	vector   []float32
	metadata map[string]string
}

// Store is a brute-force in-memory embedding store using cosine similarity.
// Useful for development and tests; production deployments use the Milvus
// backend.
type Store struct {
	mu      sync.RWMutex
	records []record
}

func NewStore() *Store { return &Store{} }

func (s *Store) Add(ctx context.Context, entries []vectorstore.Entry) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = uuid.New().String()
		metadata := make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			metadata[k] = v
		}
		s.records = append(s.records, record{
			id:       ids[i],
			document: entry.DocumentID,
			content:  entry.Content,
			vector:   append([]float32(nil), entry.Vector...),
			metadata: metadata,
		})
	}
	return ids, nil
}

// Delete removes the given ids; unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if !drop[r.id] {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *Store) Search(
	ctx context.Context,
	vector []float32,
	topK int,
	threshold float32,
	filter map[string]string,
) ([]vectorstore.Result, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []vectorstore.Result
	for _, r := range s.records {
		if !matches(r.metadata, filter) {
			continue
		}
		score := cosineSimilarity(vector, r.vector)
		if score < threshold {
			continue
		}
		results = append(results, vectorstore.Result{
			VectorID:   r.id,
			DocumentID: r.document,
			Content:    r.content,
			Score:      score,
			Metadata:   r.metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func matches(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
