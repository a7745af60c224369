// Package knowledge implements hybrid retrieval over an in-memory knowledge
// graph: BM25 keyword search fused with vector similarity via reciprocal
// rank fusion, scoped by tenant.
package knowledge

import (
	"sync"

	"github.com/conductorhq/conductor/pkg/models"
)

// Variant is an alternative phrasing of a node's question, registered to
// improve recall. Hits on a variant resolve to the parent node.
type Variant struct {
	ID     string
	NodeID string
	Text   string
}

// Graph is an in-memory knowledge node store. Writes happen at startup or
// through the ingestion seam; reads are concurrent.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]*models.KnowledgeNode
	variants map[string]*Variant
	byNode   map[string][]string // node id -> variant ids
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*models.KnowledgeNode),
		variants: make(map[string]*Variant),
		byNode:   make(map[string][]string),
	}
}

// AddNode stores or replaces a node.
func (g *Graph) AddNode(node *models.KnowledgeNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.ID] = node
}

// AddVariant registers an alternative phrasing for a node.
func (g *Graph) AddVariant(v *Variant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.variants[v.ID] = v
	g.byNode[v.NodeID] = append(g.byNode[v.NodeID], v.ID)
}

// Node returns a node by id, or nil.
func (g *Graph) Node(id string) *models.KnowledgeNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Variant returns a variant by id, or nil.
func (g *Graph) Variant(id string) *Variant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variants[id]
}

// Related returns up to limit nodes reachable by one edge hop from id.
func (g *Graph) Related(id string, limit int) []*models.KnowledgeNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node := g.nodes[id]
	if node == nil {
		return nil
	}
	out := make([]*models.KnowledgeNode, 0, len(node.Edges))
	for _, edge := range node.Edges {
		if limit > 0 && len(out) >= limit {
			break
		}
		if target := g.nodes[edge]; target != nil && target.Published {
			out = append(out, target)
		}
	}
	return out
}

// Nodes returns all nodes. Used by index rebuilds and tests.
func (g *Graph) Nodes() []*models.KnowledgeNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.KnowledgeNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Filter restricts candidate documents during search passes.
type Filter struct {
	Types  []models.NodeType
	Tags   []string
	Tenant string
}

// Match reports whether node passes the filter. Unpublished nodes never
// match.
func (f Filter) Match(node *models.KnowledgeNode) bool {
	if node == nil || !node.Published {
		return false
	}
	if f.Tenant != "" && node.Tenant != f.Tenant {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if node.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, tag := range node.Tags {
				if tag == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
