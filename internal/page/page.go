// Package page discovers block markers in rendered documentation pages.
//
// HTML pages mark blocks with data attributes:
//
//	<pre data-block-id="hello" data-block-type="sandbox" data-language="python">print("hi")</pre>
//
// Markdown sources carry the same information in the fenced code block info string:
//
//	```python sandbox id=hello readonly
package page

import (
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Config is the page-level configuration carried by meta tags.
type Config struct {
	Endpoint string // livedocs-ws-url
	Debug    bool   // livedocs-debug
}

// Skipped records a marker that could not become a block.
type Skipped struct {
	ID     string
	Reason string
}

// Page is the result of discovery over one document.
type Page struct {
	Key    string
	Config Config
	Blocks []block.Metadata
	// Duplicates lists ids seen more than once; the later marker won.
	Duplicates []string
	Skipped    []Skipped
	// Warnings describe page-level problems that did not stop discovery.
	Warnings []string
}

// IDs returns the block ids in document order.
func (p *Page) IDs() []string {
	ids := make([]string, 0, len(p.Blocks))
	for _, m := range p.Blocks {
		ids = append(ids, m.ID)
	}
	return ids
}

// NeedsConnection reports whether any block requires the shared connection.
func (p *Page) NeedsConnection() bool {
	for _, m := range p.Blocks {
		if m.Kind.NeedsConnection() {
			return true
		}
	}
	return false
}

// collector accumulates markers; a repeated id replaces the earlier marker in place.
type collector struct {
	page  *Page
	index map[string]int
}

func newCollector(key string) *collector {
	return &collector{page: &Page{Key: key}, index: make(map[string]int)}
}

func (c *collector) add(meta block.Metadata) {
	if i, ok := c.index[meta.ID]; ok {
		c.page.Blocks[i] = meta
		c.page.Duplicates = append(c.page.Duplicates, meta.ID)
		return
	}
	c.index[meta.ID] = len(c.page.Blocks)
	c.page.Blocks = append(c.page.Blocks, meta)
}

func (c *collector) skip(id, reason string) {
	c.page.Skipped = append(c.page.Skipped, Skipped{ID: id, Reason: reason})
}

// LoadFile parses a page from disk, choosing the parser by extension.
// An empty key defaults to the cleaned path.
func LoadFile(path, key string) (*Page, error) {
	path = filepath.Clean(path)
	if key == "" {
		key = filepath.ToSlash(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryValidation, "failed to read page").
				WithContext("path", path).Build()
		}
		return ParseMarkdown(src, key), nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryValidation, "failed to open page").
				WithContext("path", path).Build()
		}
		defer func() {
			_ = f.Close()
		}()
		return ParseHTML(f, key)
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "true", "1", "yes", "readonly", "autorun":
		return true
	default:
		return false
	}
}
