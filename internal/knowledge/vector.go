package knowledge

import (
	"sort"
	"sync"

	"github.com/conductorhq/conductor/internal/embeddings"
)

// vectorIndex is a brute-force cosine similarity index over normalized
// vectors. Corpus sizes here are small enough that a scan beats the
// bookkeeping of an ANN structure.
type vectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{vectors: make(map[string][]float32)}
}

// put stores a vector, normalizing it first.
func (ix *vectorIndex) put(id string, vec []float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors[id] = embeddings.Normalize(vec)
}

// search returns the top limit docs by cosine similarity to query, filtered
// by keep, sorted score descending with ties broken by id ascending.
func (ix *vectorIndex) search(query []float32, limit int, keep func(docID string) bool) []scored {
	q := embeddings.Normalize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []scored
	for id, vec := range ix.vectors {
		if keep != nil && !keep(id) {
			continue
		}
		sim := embeddings.Cosine(q, vec)
		if sim > 0 {
			hits = append(hits, scored{id: id, score: sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
