package mirror

import (
	"strings"

	"github.com/agentworkforce/notemirror/internal/notion"
)

// DocumentExtension is the extension every rendered page file carries.
const DocumentExtension = ".md"

// PathResolver computes canonical slash-separated local paths for
// nodes of one graph. Resolution is a pure function of the node's
// title, its ancestor titles, and the configured root prefix, which is
// what makes move detection and idempotence possible.
type PathResolver struct {
	graph      *Graph
	rootPrefix string
	logger     Logger
}

func NewPathResolver(graph *Graph, rootPrefix string, logger Logger) *PathResolver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &PathResolver{
		graph:      graph,
		rootPrefix: strings.Trim(strings.TrimSpace(rootPrefix), "/"),
		logger:     logger,
	}
}

// Resolve returns the node's canonical local path. Roots and database
// containers resolve to folder paths; every other page resolves to a
// document file inside its ancestor folder chain. A parent reference
// that does not resolve truncates the chain at that point: the node
// still gets a best-effort path and the anomaly is logged.
func (r *PathResolver) Resolve(node notion.Node) string {
	segments := r.ancestorSegments(node)
	if IsFolderNode(node) {
		segments = append(segments, SanitizeTitle(node.Title))
	} else {
		segments = append(segments, SanitizeTitle(node.Title)+DocumentExtension)
	}
	if r.rootPrefix != "" {
		segments = append([]string{r.rootPrefix}, segments...)
	}
	return strings.Join(segments, "/")
}

func (r *PathResolver) ancestorSegments(node notion.Node) []string {
	var reversed []string
	seen := map[string]struct{}{node.ID: {}}
	parentID := node.ParentID
	for parentID != "" {
		if _, cycle := seen[parentID]; cycle {
			r.logger.Printf("path: parent cycle detected at %s while resolving %s", parentID, node.ID)
			break
		}
		seen[parentID] = struct{}{}
		parent, ok := r.graph.Node(parentID)
		if !ok {
			r.logger.Printf("path: dangling parent reference %s while resolving %s (%q); chain truncated", parentID, node.ID, node.Title)
			break
		}
		reversed = append(reversed, SanitizeTitle(parent.Title))
		parentID = parent.ParentID
	}
	segments := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		segments = append(segments, reversed[i])
	}
	return segments
}

// IsFolderNode reports whether the node maps to a folder rather than a
// document file: database containers always, and any workspace-level
// root, since its children live inside it.
func IsFolderNode(node notion.Node) bool {
	return node.Kind == notion.NodeKindDatabase || node.ParentID == ""
}

func parentFolder(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
