package knowledge

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/conductorhq/conductor/internal/embeddings"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// Reciprocal rank fusion parameters. Absent ranks contribute zero.
const (
	rrfK         = 60.0
	weightBM25   = 0.4
	weightVector = 0.6
)

// SearchOptions scopes one retrieval.
type SearchOptions struct {
	Types  []models.NodeType
	Tags   []string
	Tenant string
	Limit  int
}

// Retriever performs hybrid search over the knowledge graph. Keyword and
// vector passes each produce a ranked candidate list truncated at twice the
// requested limit; reciprocal rank fusion merges them. When embeddings are
// unavailable the retriever degrades to BM25 alone.
type Retriever struct {
	graph    *Graph
	bm25     *bm25Index
	embedder embeddings.Provider
	logger   *observability.Logger

	// vectors maps doc id (node or variant) to its normalized embedding.
	vectors *vectorIndex
}

// NewRetriever creates a retriever over graph. embedder may be nil, in which
// case only keyword search is used.
func NewRetriever(graph *Graph, embedder embeddings.Provider, logger *observability.Logger) *Retriever {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Retriever{
		graph:    graph,
		bm25:     newBM25Index(),
		embedder: embedder,
		logger:   logger,
		vectors:  newVectorIndex(),
	}
}

// Index adds a node and its variant phrasings to every index. Embedding
// failures are logged and leave the node keyword-searchable only.
func (r *Retriever) Index(ctx context.Context, node *models.KnowledgeNode, variants ...string) error {
	r.graph.AddNode(node)
	r.bm25.index(node.ID, []field{
		{text: node.Title, boost: boostTitle},
		{text: node.Summary, boost: boostSummary},
		{text: contentText(node), boost: boostContent},
	})

	texts := []string{node.Title + "\n" + node.Summary + "\n" + contentText(node)}
	ids := []string{node.ID}
	for i, text := range variants {
		v := &Variant{
			ID:     node.ID + "::variant::" + strconv.Itoa(i),
			NodeID: node.ID,
			Text:   text,
		}
		r.graph.AddVariant(v)
		// Variant phrasings rank like titles in the keyword pass.
		r.bm25.index(v.ID, []field{{text: text, boost: boostTitle}})
		texts = append(texts, text)
		ids = append(ids, v.ID)
	}

	if r.embedder == nil {
		return nil
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		r.logger.Warn(ctx, "embedding failed, node is keyword-only", "node", node.ID, "error", err)
		return nil
	}
	for i, vec := range vecs {
		r.vectors.put(ids[i], vec)
	}
	return nil
}

// Search returns the top limit nodes for query, ranked by fused score
// descending. An empty query or unknown tenant yields empty results.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) (*models.SearchResults, error) {
	out := &models.SearchResults{Query: query}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	filter := Filter{Types: opts.Types, Tags: opts.Tags, Tenant: opts.Tenant}
	keep := func(docID string) bool {
		return filter.Match(r.resolve(docID))
	}

	bmHits := r.bm25.search(query, 2*limit, keep)

	var vecHits []scored
	if r.embedder != nil {
		qvec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			r.logger.Warn(ctx, "query embedding failed, falling back to keyword search", "error", err)
		} else {
			vecHits = r.vectors.search(qvec, 2*limit, keep)
		}
	}

	out.Results = r.fuse(bmHits, vecHits, limit)
	return out, nil
}

// GetBundle runs Search and partitions the hits by node type for prompt
// assembly. Failures are swallowed: the caller receives an empty bundle and
// the request continues without knowledge context.
func (r *Retriever) GetBundle(ctx context.Context, query string, limit int, tenant string) *models.KnowledgeBundle {
	bundle := &models.KnowledgeBundle{}
	results, err := r.Search(ctx, query, SearchOptions{Limit: limit, Tenant: tenant})
	if err != nil {
		r.logger.Warn(ctx, "knowledge retrieval failed", "error", err)
		return bundle
	}
	for _, hit := range results.Results {
		switch hit.Node.Type {
		case models.NodeSchema, models.NodeSchemaIndex, models.NodeSchemaField:
			bundle.Schemas = append(bundle.Schemas, hit.Node)
		case models.NodePlaybook:
			bundle.Playbooks = append(bundle.Playbooks, hit.Node)
		case models.NodeFAQ:
			bundle.FAQs = append(bundle.FAQs, hit.Node)
		case models.NodeConcept:
			bundle.Concepts = append(bundle.Concepts, hit.Node)
		case models.NodeExample:
			bundle.Examples = append(bundle.Examples, hit.Node)
		}
	}
	return bundle
}

// GetNode returns a node by id, or nil.
func (r *Retriever) GetNode(ctx context.Context, id string) *models.KnowledgeNode {
	return r.graph.Node(id)
}

// GetRelated returns up to limit published nodes one edge away from id.
func (r *Retriever) GetRelated(ctx context.Context, id string, limit int) []*models.KnowledgeNode {
	return r.graph.Related(id, limit)
}

// GetSchema finds the schema node for an entity name: best title-substring
// match among schema-typed hits, otherwise the top-scored hit.
func (r *Retriever) GetSchema(ctx context.Context, entityName string) *models.KnowledgeNode {
	results, err := r.Search(ctx, entityName, SearchOptions{
		Types: []models.NodeType{models.NodeSchema},
		Limit: 5,
	})
	if err != nil || len(results.Results) == 0 {
		return nil
	}
	needle := strings.ToLower(entityName)
	for _, hit := range results.Results {
		if strings.Contains(strings.ToLower(hit.Node.Title), needle) {
			return hit.Node
		}
	}
	return results.Results[0].Node
}

// fuse merges the two ranked lists with reciprocal rank fusion, resolves
// variants to their parent nodes keeping the higher-scoring match source,
// and returns the top limit nodes. With no vector hits, raw BM25 scores
// normalized to [0, 1] are used instead.
func (r *Retriever) fuse(bmHits, vecHits []scored, limit int) []*models.SearchResult {
	type candidate struct {
		node     *models.KnowledgeNode
		score    float64
		bm25Rank int // 0 when absent
		source   models.MatchSource
	}

	bm25Only := len(vecHits) == 0
	var maxBM25 float64
	for _, h := range bmHits {
		if h.score > maxBM25 {
			maxBM25 = h.score
		}
	}

	bmRank := make(map[string]int, len(bmHits))
	for i, h := range bmHits {
		bmRank[h.id] = i + 1
	}
	vecRank := make(map[string]int, len(vecHits))
	for i, h := range vecHits {
		vecRank[h.id] = i + 1
	}

	byNode := make(map[string]*candidate)
	consider := func(docID string, rawBM25 float64) {
		node := r.resolve(docID)
		if node == nil {
			return
		}
		source := models.MatchNode
		if docID != node.ID {
			source = models.MatchVariant
		}

		var score float64
		if bm25Only {
			if maxBM25 > 0 {
				score = rawBM25 / maxBM25
			}
		} else {
			if rank, ok := bmRank[docID]; ok {
				score += weightBM25 / (rrfK + float64(rank))
			}
			if rank, ok := vecRank[docID]; ok {
				score += weightVector / (rrfK + float64(rank))
			}
		}

		cand := &candidate{node: node, score: score, bm25Rank: bmRank[docID], source: source}
		if cur, ok := byNode[node.ID]; !ok || cand.score > cur.score {
			byNode[node.ID] = cand
		}
	}
	for _, h := range bmHits {
		consider(h.id, h.score)
	}
	for _, h := range vecHits {
		consider(h.id, 0)
	}

	cands := make([]*candidate, 0, len(byNode))
	for _, c := range byNode {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		// Prefer the better keyword rank; absent ranks sort last.
		ri, rj := cands[i].bm25Rank, cands[j].bm25Rank
		if ri == 0 {
			ri = int(^uint(0) >> 1)
		}
		if rj == 0 {
			rj = int(^uint(0) >> 1)
		}
		if ri != rj {
			return ri < rj
		}
		return cands[i].node.ID < cands[j].node.ID
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]*models.SearchResult, len(cands))
	for i, c := range cands {
		out[i] = &models.SearchResult{Node: c.node, Score: c.score, MatchSource: c.source}
	}
	return out
}

// resolve maps a doc id to its node: variants resolve to their parent.
func (r *Retriever) resolve(docID string) *models.KnowledgeNode {
	if node := r.graph.Node(docID); node != nil {
		return node
	}
	if v := r.graph.Variant(docID); v != nil {
		return r.graph.Node(v.NodeID)
	}
	return nil
}

// contentText flattens the node's JSON content into searchable text.
func contentText(node *models.KnowledgeNode) string {
	if len(node.Content) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(node.Content, &decoded); err != nil {
		return string(node.Content)
	}
	var sb strings.Builder
	flattenJSON(decoded, &sb)
	return sb.String()
}

func flattenJSON(v any, sb *strings.Builder) {
	switch val := v.(type) {
	case string:
		sb.WriteString(val)
		sb.WriteByte(' ')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(val[k], sb)
		}
	case []any:
		for _, item := range val {
			flattenJSON(item, sb)
		}
	}
}
