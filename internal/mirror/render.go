package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/notemirror/internal/notion"
)

const (
	indentPerLevel            = "  "
	contentUnavailableMarker  = "<!-- content unavailable -->"
	defaultCodeFenceDelimiter = "```"
)

// fragment is one rendered piece of a document together with the
// nesting depth it belongs at. Keeping depth explicit until the final
// flatten keeps indentation independent of block-type logic.
type fragment struct {
	lines []string
	depth int
}

// Renderer converts a node's block tree and properties into a flat
// markdown document. Asset-bearing blocks are materialized through the
// AssetManager so the document can reference local files.
type Renderer struct {
	assets *AssetManager
	logger Logger
}

func NewRenderer(assets *AssetManager, logger Logger) *Renderer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Renderer{assets: assets, logger: logger}
}

// Render produces the full document text: level-1 heading, tag line
// from choice properties, provenance line, then the block tree.
func (r *Renderer) Render(ctx context.Context, node notion.Node, blocks []notion.Block, props []notion.Property, syncedAt time.Time) string {
	fragments := []fragment{
		{lines: []string{"# " + strings.TrimSpace(node.Title)}, depth: 0},
	}
	if tagLine := renderTagLine(props); tagLine != "" {
		fragments = append(fragments, fragment{lines: []string{"", tagLine}, depth: 0})
	}
	fragments = append(fragments, fragment{
		lines: []string{"", "Synced: " + syncedAt.UTC().Format(time.RFC3339), ""},
		depth: 0,
	})
	fragments = append(fragments, r.renderBlocks(ctx, blocks, 0)...)
	return flatten(fragments)
}

// RenderStub is the degraded document used when a node's content or
// properties cannot be fetched; the pass carries on with this so one
// failing node never blocks the rest.
func (r *Renderer) RenderStub(node notion.Node, syncedAt time.Time) string {
	fragments := []fragment{
		{lines: []string{"# " + strings.TrimSpace(node.Title)}, depth: 0},
		{lines: []string{"", "Synced: " + syncedAt.UTC().Format(time.RFC3339), ""}, depth: 0},
		{lines: []string{contentUnavailableMarker}, depth: 0},
	}
	return flatten(fragments)
}

func renderTagLine(props []notion.Property) string {
	var tokens []string
	for _, prop := range props {
		if !prop.IsChoice() {
			continue
		}
		for _, value := range prop.Values {
			token := TagToken(value)
			if token == "" {
				continue
			}
			tokens = append(tokens, "#"+token)
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " ")
}

func (r *Renderer) renderBlocks(ctx context.Context, blocks []notion.Block, depth int) []fragment {
	var fragments []fragment
	for _, block := range blocks {
		fragments = append(fragments, r.renderBlock(ctx, block, depth))
		if len(block.Children) > 0 {
			fragments = append(fragments, r.renderBlocks(ctx, block.Children, depth+1)...)
		}
	}
	return fragments
}

func (r *Renderer) renderBlock(ctx context.Context, block notion.Block, depth int) fragment {
	switch block.Type {
	case "paragraph":
		return fragment{lines: []string{renderRuns(block.Text), ""}, depth: depth}
	case "heading_1":
		return fragment{lines: []string{"# " + renderRuns(block.Text), ""}, depth: depth}
	case "heading_2":
		return fragment{lines: []string{"## " + renderRuns(block.Text), ""}, depth: depth}
	case "heading_3":
		return fragment{lines: []string{"### " + renderRuns(block.Text), ""}, depth: depth}
	case "bulleted_list_item":
		return fragment{lines: []string{"- " + renderRuns(block.Text)}, depth: depth}
	case "numbered_list_item":
		return fragment{lines: []string{"1. " + renderRuns(block.Text)}, depth: depth}
	case "quote":
		return fragment{lines: []string{"> " + renderRuns(block.Text), ""}, depth: depth}
	case "code":
		lang := strings.TrimSpace(block.Language)
		lines := []string{defaultCodeFenceDelimiter + lang}
		lines = append(lines, strings.Split(plainRuns(block.Text), "\n")...)
		lines = append(lines, defaultCodeFenceDelimiter, "")
		return fragment{lines: lines, depth: depth}
	case "image":
		return fragment{lines: []string{r.renderAsset(ctx, block, true), ""}, depth: depth}
	case "file":
		return fragment{lines: []string{r.renderAsset(ctx, block, false), ""}, depth: depth}
	default:
		return fragment{lines: []string{fmt.Sprintf("<!-- unsupported block: %s -->", block.Type), ""}, depth: depth}
	}
}

func (r *Renderer) renderAsset(ctx context.Context, block notion.Block, image bool) string {
	caption := strings.TrimSpace(block.Caption)
	target := block.AssetURL
	if r.assets != nil && block.AssetURL != "" {
		if localPath, ok := r.assets.Materialize(ctx, block.AssetURL, caption); ok {
			target = localPath
		}
	}
	if caption == "" {
		caption = "image"
	}
	if image {
		return fmt.Sprintf("![%s](%s)", caption, target)
	}
	return fmt.Sprintf("[%s](%s)", caption, target)
}

// renderRuns concatenates rich-text runs, wrapping each run in its
// formatting markers in a fixed order: bold, italic, code,
// strikethrough, then the link wrapper outermost.
func renderRuns(runs []notion.RichText) string {
	var b strings.Builder
	for _, run := range runs {
		text := run.PlainText
		if run.Bold {
			text = "**" + text + "**"
		}
		if run.Italic {
			text = "*" + text + "*"
		}
		if run.Code {
			text = "`" + text + "`"
		}
		if run.Strikethrough {
			text = "~~" + text + "~~"
		}
		if run.Href != "" {
			text = "[" + text + "](" + run.Href + ")"
		}
		b.WriteString(text)
	}
	return b.String()
}

func plainRuns(runs []notion.RichText) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.PlainText)
	}
	return b.String()
}

func flatten(fragments []fragment) string {
	var b strings.Builder
	for _, frag := range fragments {
		indent := strings.Repeat(indentPerLevel, frag.depth)
		for _, line := range frag.lines {
			if line == "" {
				b.WriteByte('\n')
				continue
			}
			b.WriteString(indent)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
