package models

import "encoding/json"

// NodeType classifies a knowledge node.
type NodeType string

const (
	NodeSchema         NodeType = "schema"
	NodePlaybook       NodeType = "playbook"
	NodeFAQ            NodeType = "faq"
	NodeConcept        NodeType = "concept"
	NodeExample        NodeType = "example"
	NodePermissionRule NodeType = "permission_rule"
	NodeEntity         NodeType = "entity"
	NodeSchemaIndex    NodeType = "schema_index"
	NodeSchemaField    NodeType = "schema_field"
)

// KnowledgeNode is one vertex in the knowledge graph. Nodes form a directed
// multigraph via typed edges and are scoped to a tenant.
type KnowledgeNode struct {
	ID        string          `json:"id"`
	Type      NodeType        `json:"type"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	Summary   string          `json:"summary,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Tenant    string          `json:"tenant,omitempty"`
	Edges     []string        `json:"edges,omitempty"`
	Published bool            `json:"published"`
}

// MatchSource tells which text of a node matched a search: its own body or a
// registered variant phrasing.
type MatchSource string

const (
	MatchNode    MatchSource = "node"
	MatchVariant MatchSource = "variant"
)

// SearchResult is one scored retrieval hit.
type SearchResult struct {
	Node        *KnowledgeNode `json:"node"`
	Score       float64        `json:"score"`
	MatchSource MatchSource    `json:"match_source"`
}

// SearchResults is a ranked list of retrieval hits, best first.
type SearchResults struct {
	Query   string          `json:"query"`
	Results []*SearchResult `json:"results"`
}

// KnowledgeBundle partitions search results by node type into named buckets
// ready for direct prompt assembly.
type KnowledgeBundle struct {
	Schemas   []*KnowledgeNode `json:"schemas,omitempty"`
	Playbooks []*KnowledgeNode `json:"playbooks,omitempty"`
	FAQs      []*KnowledgeNode `json:"faqs,omitempty"`
	Concepts  []*KnowledgeNode `json:"concepts,omitempty"`
	Examples  []*KnowledgeNode `json:"examples,omitempty"`
}

// Empty reports whether no bucket has content.
func (b *KnowledgeBundle) Empty() bool {
	if b == nil {
		return true
	}
	return len(b.Schemas) == 0 && len(b.Playbooks) == 0 && len(b.FAQs) == 0 &&
		len(b.Concepts) == 0 && len(b.Examples) == 0
}
