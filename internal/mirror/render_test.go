package mirror

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/notemirror/internal/notion"
)

var renderedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func plainBlock(blockType, text string) notion.Block {
	return notion.Block{
		ID:   blockType + "-" + text,
		Type: blockType,
		Text: []notion.RichText{{PlainText: text}},
	}
}

func TestRenderDocumentLayout(t *testing.T) {
	r := NewRenderer(nil, nil)
	node := notion.Node{ID: "n1", Title: "  Weekly Notes  "}
	props := []notion.Property{
		{Name: "Status", Type: "status", Values: []string{"In Progress"}},
		{Name: "Priority", Type: "select", Values: []string{"High Priority!"}},
		{Name: "Owner", Type: "people", Values: []string{"ignored"}},
	}
	blocks := []notion.Block{plainBlock("paragraph", "Hello world.")}

	got := r.Render(context.Background(), node, blocks, props, renderedAt)
	want := strings.Join([]string{
		"# Weekly Notes",
		"",
		"#In_Progress #High_Priority",
		"",
		"Synced: 2026-01-02T03:04:05Z",
		"",
		"Hello world.",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("document mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderSkipsTagLineWithoutChoiceProperties(t *testing.T) {
	r := NewRenderer(nil, nil)
	got := r.Render(context.Background(), notion.Node{Title: "Bare"}, nil, []notion.Property{
		{Name: "Owner", Type: "people", Values: []string{"someone"}},
	}, renderedAt)
	if strings.Contains(got, "#") && !strings.HasPrefix(got, "# Bare") {
		t.Fatalf("unexpected tag content in:\n%s", got)
	}
	if strings.Contains(got, "#someone") {
		t.Fatalf("non-choice property leaked into tags:\n%s", got)
	}
}

func TestRenderNestedListIndentation(t *testing.T) {
	r := NewRenderer(nil, nil)
	blocks := []notion.Block{
		{
			Type: "bulleted_list_item",
			Text: []notion.RichText{{PlainText: "parent"}},
			Children: []notion.Block{
				{
					Type: "bulleted_list_item",
					Text: []notion.RichText{{PlainText: "child"}},
					Children: []notion.Block{
						plainBlock("bulleted_list_item", "grandchild"),
					},
				},
			},
		},
	}
	got := r.Render(context.Background(), notion.Node{Title: "List"}, blocks, nil, renderedAt)
	for _, line := range []string{"- parent\n", "  - child\n", "    - grandchild\n"} {
		if !strings.Contains(got, line) {
			t.Fatalf("missing indented line %q in:\n%s", line, got)
		}
	}
}

func TestRenderCodeBlock(t *testing.T) {
	r := NewRenderer(nil, nil)
	blocks := []notion.Block{{
		Type:     "code",
		Language: "go",
		Text:     []notion.RichText{{PlainText: "a := 1\nb := 2"}},
	}}
	got := r.Render(context.Background(), notion.Node{Title: "Code"}, blocks, nil, renderedAt)
	want := "```go\na := 1\nb := 2\n```\n"
	if !strings.Contains(got, want) {
		t.Fatalf("code fence missing in:\n%s", got)
	}
}

func TestRenderRunsFormattingOrder(t *testing.T) {
	got := renderRuns([]notion.RichText{
		{PlainText: "plain "},
		{PlainText: "strong", Bold: true},
		{PlainText: " linked", Bold: true, Italic: true, Href: "https://example.com"},
		{PlainText: "gone", Strikethrough: true},
		{PlainText: "id", Code: true},
	})
	want := "plain **strong**[*** linked***](https://example.com)~~gone~~`id`"
	if got != want {
		t.Fatalf("renderRuns = %q, want %q", got, want)
	}
}

func TestRenderUnknownBlockBecomesComment(t *testing.T) {
	r := NewRenderer(nil, nil)
	got := r.Render(context.Background(), notion.Node{Title: "T"}, []notion.Block{{Type: "toggle"}}, nil, renderedAt)
	if !strings.Contains(got, "<!-- unsupported block: toggle -->") {
		t.Fatalf("unsupported block marker missing in:\n%s", got)
	}
}

func TestRenderImageFallsBackToRemoteURL(t *testing.T) {
	// No asset manager wired: the document keeps the remote locator.
	r := NewRenderer(nil, nil)
	blocks := []notion.Block{{
		Type:     "image",
		AssetURL: "https://files.example.com/chart.png",
		Caption:  "Q1 chart",
	}}
	got := r.Render(context.Background(), notion.Node{Title: "Report"}, blocks, nil, renderedAt)
	if !strings.Contains(got, "![Q1 chart](https://files.example.com/chart.png)") {
		t.Fatalf("image fallback missing in:\n%s", got)
	}
}

func TestRenderStub(t *testing.T) {
	r := NewRenderer(nil, nil)
	got := r.RenderStub(notion.Node{Title: "Broken"}, renderedAt)
	if !strings.HasPrefix(got, "# Broken\n") {
		t.Fatalf("stub missing heading:\n%s", got)
	}
	if !strings.Contains(got, "Synced: 2026-01-02T03:04:05Z") {
		t.Fatalf("stub missing provenance line:\n%s", got)
	}
	if !strings.Contains(got, contentUnavailableMarker) {
		t.Fatalf("stub missing unavailable marker:\n%s", got)
	}
}
