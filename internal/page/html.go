package page

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

const (
	attrID       = "data-block-id"
	attrType     = "data-block-type"
	attrLanguage = "data-language"
	attrReadonly = "data-readonly"
	attrAutorun  = "data-autorun"

	metaEndpoint = "livedocs-ws-url"
	metaDebug    = "livedocs-debug"
)

// ParseHTML discovers block markers and page configuration in an HTML document.
func ParseHTML(r io.Reader, key string) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "failed to parse HTML").Build()
	}

	c := newCollector(key)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "meta" {
				readMeta(n, &c.page.Config)
			}
			if id, ok := getAttr(n, attrID); ok {
				addMarker(c, n, id)
				// markers do not nest
				return
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return c.page, nil
}

func readMeta(n *html.Node, cfg *Config) {
	name, _ := getAttr(n, "name")
	content, _ := getAttr(n, "content")
	switch name {
	case metaEndpoint:
		cfg.Endpoint = strings.TrimSpace(content)
	case metaDebug:
		cfg.Debug = strings.TrimSpace(content) == "true"
	}
}

func addMarker(c *collector, n *html.Node, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		c.skip("", "empty "+attrID)
		return
	}
	rawKind, _ := getAttr(n, attrType)
	kind, ok := block.ParseKind(rawKind)
	if !ok {
		c.skip(id, "unknown block type "+rawKind)
		return
	}
	lang, _ := getAttr(n, attrLanguage)
	if lang == "" {
		lang = codeLanguage(n)
	}
	meta := block.Metadata{
		ID:       id,
		Kind:     kind,
		Language: strings.ToLower(strings.TrimSpace(lang)),
		Source:   textContent(n),
	}
	if v, ok := getAttr(n, attrReadonly); ok {
		meta.Readonly = truthy(v)
	}
	if v, ok := getAttr(n, attrAutorun); ok {
		meta.AutoRun = truthy(v)
	}
	c.add(meta)
}

// codeLanguage reads a "language-xyz" class from the marker or its first code child.
func codeLanguage(n *html.Node) string {
	var found string
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if class, ok := getAttr(n, "class"); ok {
				for _, c := range strings.Fields(class) {
					if lang, ok := strings.CutPrefix(c, "language-"); ok {
						found = lang
						return true
					}
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if visit(ch) {
				return true
			}
		}
		return false
	}
	visit(n)
	return found
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			visit(ch)
		}
	}
	visit(n)
	return strings.TrimPrefix(sb.String(), "\n")
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
