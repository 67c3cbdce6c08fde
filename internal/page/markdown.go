package page

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/livedocs/internal/block"
)

// ParseMarkdown discovers blocks in fenced code blocks. The info string starts
// with the language and carries the block type plus attributes, either bare or
// wrapped in braces:
//
//	```go sandbox id=hello readonly
//	```python {id=calc type=server autorun}
//
// Fences without a block type are plain code and are ignored. A typed fence
// without an id gets "block-<n>", n being its position among fences. A YAML
// front matter `livedocs:` section sets the endpoint and debug flag.
func ParseMarkdown(src []byte, key string) *Page {
	c := newCollector(key)
	src = readFrontMatter(src, c.page)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	fence := 0
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		node, ok := n.(*gmast.FencedCodeBlock)
		if !ok {
			return gmast.WalkContinue, nil
		}
		fence++
		if node.Info == nil {
			return gmast.WalkSkipChildren, nil
		}
		info := parseInfo(string(node.Info.Segment.Value(src)))
		if info.kind == "" {
			return gmast.WalkSkipChildren, nil
		}
		kind, ok := block.ParseKind(info.kind)
		if !ok {
			c.skip(info.id, "unknown block type "+info.kind)
			return gmast.WalkSkipChildren, nil
		}
		id := info.id
		if id == "" {
			id = fmt.Sprintf("block-%d", fence)
		}
		c.add(block.Metadata{
			ID:       id,
			Kind:     kind,
			Language: info.language,
			Readonly: info.readonly,
			AutoRun:  info.autorun,
			Source:   fenceBody(node, src),
		})
		return gmast.WalkSkipChildren, nil
	})
	return c.page
}

type fenceInfo struct {
	language string
	kind     string
	id       string
	readonly bool
	autorun  bool
}

func parseInfo(raw string) fenceInfo {
	var info fenceInfo
	raw = strings.NewReplacer("{", " ", "}", " ").Replace(raw)
	for i, tok := range strings.Fields(raw) {
		key, val, hasVal := strings.Cut(tok, "=")
		val = strings.Trim(val, `"'`)
		switch {
		case hasVal && (key == "id" || key == "data-block-id"):
			info.id = val
		case hasVal && (key == "type" || key == "data-block-type"):
			info.kind = val
		case hasVal && (key == "lang" || key == "language"):
			info.language = strings.ToLower(val)
		case hasVal && key == "readonly":
			info.readonly = truthy(val)
		case hasVal && key == "autorun":
			info.autorun = truthy(val)
		case hasVal:
			// unknown attribute
		case tok == "readonly":
			info.readonly = true
		case tok == "autorun":
			info.autorun = true
		default:
			if _, ok := block.ParseKind(tok); ok {
				info.kind = tok
			} else if i == 0 {
				info.language = strings.ToLower(tok)
			}
		}
	}
	return info
}

func fenceBody(node *gmast.FencedCodeBlock, src []byte) string {
	var sb strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return sb.String()
}
