package notion

// NodeKind distinguishes the two remote document types the mirror
// understands: ordinary pages and database containers.
type NodeKind string

const (
	NodeKindPage     NodeKind = "page"
	NodeKindDatabase NodeKind = "database"
)

// Node is one entry of the remote workspace listing. ParentID is empty
// for workspace-level nodes. Revision is an opaque change marker (the
// remote last-edited timestamp); it is only ever compared for equality.
type Node struct {
	ID       string
	Title    string
	Kind     NodeKind
	ParentID string
	Revision string
}

// RichText is a single formatted run inside a block.
type RichText struct {
	PlainText     string
	Bold          bool
	Italic        bool
	Code          bool
	Strikethrough bool
	Href          string
}

// Block is one node of a page's content tree. Only the fields relevant
// to the block's Type are populated.
type Block struct {
	ID       string
	Type     string
	Text     []RichText
	Language string
	AssetURL string
	Caption  string
	Children []Block
}

// Property is a typed page property. Values carries the selected
// choice(s) for select-like property types and is empty otherwise.
type Property struct {
	Name   string
	Type   string
	Values []string
}

// IsChoice reports whether the property is a single- or multiple-choice
// field whose values should surface as tags.
func (p Property) IsChoice() bool {
	switch p.Type {
	case "select", "multi_select", "status":
		return true
	}
	return false
}
