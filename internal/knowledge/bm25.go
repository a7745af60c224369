package knowledge

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 field boosts: titles dominate, summaries help, body text contributes.
const (
	boostTitle   = 3.0
	boostSummary = 2.0
	boostContent = 1.0

	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Doc is one indexed document: a node body or a variant text.
type bm25Doc struct {
	id     string
	length float64
	// freqs holds boost-weighted term frequencies.
	freqs map[string]float64
}

// bm25Index is a small in-memory BM25F-style index.
type bm25Index struct {
	mu        sync.RWMutex
	docs      map[string]*bm25Doc
	df        map[string]int // term -> documents containing it
	totalLen  float64
	tokenizer func(string) []string
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		docs:      make(map[string]*bm25Doc),
		df:        make(map[string]int),
		tokenizer: tokenize,
	}
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// field pairs text with its boost.
type field struct {
	text  string
	boost float64
}

// index adds or replaces a document built from boosted fields.
func (ix *bm25Index) index(id string, fields []field) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.docs[id]; ok {
		for term := range old.freqs {
			ix.df[term]--
			if ix.df[term] <= 0 {
				delete(ix.df, term)
			}
		}
		ix.totalLen -= old.length
		delete(ix.docs, id)
	}

	doc := &bm25Doc{id: id, freqs: make(map[string]float64)}
	for _, f := range fields {
		for _, term := range ix.tokenizer(f.text) {
			doc.freqs[term] += f.boost
			doc.length += f.boost
		}
	}
	for term := range doc.freqs {
		ix.df[term]++
	}
	ix.totalLen += doc.length
	ix.docs[id] = doc
}

// scored is one ranked hit from a single retriever pass.
type scored struct {
	id    string
	score float64
}

// search scores documents against the query, keeps those accepted by keep,
// and returns the top limit by score descending (ties by id ascending, for
// deterministic ordering).
func (ix *bm25Index) search(query string, limit int, keep func(docID string) bool) []scored {
	terms := ix.tokenizer(query)
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docs)
	if n == 0 {
		return nil
	}
	avgLen := ix.totalLen / float64(n)

	var hits []scored
	for id, doc := range ix.docs {
		if keep != nil && !keep(id) {
			continue
		}
		var score float64
		for _, term := range terms {
			tf := doc.freqs[term]
			if tf == 0 {
				continue
			}
			df := ix.df[term]
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			denom := tf + bm25K1*(1-bm25B+bm25B*doc.length/avgLen)
			score += idf * tf * (bm25K1 + 1) / denom
		}
		if score > 0 {
			hits = append(hits, scored{id: id, score: score})
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
