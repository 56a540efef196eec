package mirror

import (
	"github.com/agentworkforce/notemirror/internal/notion"
)

// Logger is the minimal logging surface every mirror component takes.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// ExclusionSet holds the configured node IDs that must never sync.
// Membership checks run on canonicalized IDs so "aaaa-bbbb" and
// "aaaabbbb" are the same exclusion.
type ExclusionSet struct {
	ids map[string]struct{}
}

func NewExclusionSet(ids []string) *ExclusionSet {
	set := &ExclusionSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		canonical := CanonicalID(id)
		if canonical == "" {
			continue
		}
		set.ids[canonical] = struct{}{}
	}
	return set
}

func (s *ExclusionSet) Contains(id string) bool {
	if s == nil || len(s.ids) == 0 {
		return false
	}
	_, ok := s.ids[CanonicalID(id)]
	return ok
}

// Graph is the per-pass adjacency view over the flat node listing.
// It is derived, immutable, and rebuilt from scratch on every pass.
type Graph struct {
	nodes    map[string]notion.Node
	children map[string][]notion.Node
	roots    []notion.Node
}

// BuildGraph indexes the node list by parent, dropping excluded nodes.
// Sibling order follows input order; a node with no parent reference
// (or a workspace parent, which the client reports as no parent) is a
// root.
func BuildGraph(nodes []notion.Node, excluded *ExclusionSet, logger Logger) *Graph {
	if logger == nil {
		logger = nopLogger{}
	}
	g := &Graph{
		nodes:    make(map[string]notion.Node, len(nodes)),
		children: make(map[string][]notion.Node),
	}
	for _, node := range nodes {
		if excluded.Contains(node.ID) {
			logger.Printf("graph: node %s (%q) excluded by filter", node.ID, node.Title)
			continue
		}
		g.nodes[node.ID] = node
		if node.ParentID == "" {
			g.roots = append(g.roots, node)
			continue
		}
		g.children[node.ParentID] = append(g.children[node.ParentID], node)
	}
	return g
}

func (g *Graph) Node(id string) (notion.Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

func (g *Graph) Contains(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Roots() []notion.Node {
	return g.roots
}

func (g *Graph) Children(id string) []notion.Node {
	return g.children[id]
}

// Len reports how many nodes survived filtering.
func (g *Graph) Len() int {
	return len(g.nodes)
}
