package page

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// frontMatter is the part of a Markdown page's YAML header livedocs reads.
// It mirrors the HTML meta tags.
type frontMatter struct {
	Livedocs struct {
		Endpoint string `yaml:"endpoint"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"livedocs"`
}

// splitFrontMatter separates a leading `---` delimited YAML header from the
// body. ok is false when the document has no header; a header without a
// closing delimiter is reported as unterminated.
func splitFrontMatter(src []byte) (header, body []byte, ok, unterminated bool) {
	nl := "\n"
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		nl = "\r\n"
	}
	open := []byte("---" + nl)
	if !bytes.HasPrefix(src, open) {
		return nil, src, false, false
	}
	rest := src[len(open):]
	if bytes.HasPrefix(rest, open) {
		return nil, rest[len(open):], true, false
	}
	closing := []byte(nl + "---" + nl)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		return nil, src, false, true
	}
	return rest[:idx+len(nl)], rest[idx+len(closing):], true, false
}

// readFrontMatter applies the header's livedocs settings to p and returns the body.
func readFrontMatter(src []byte, p *Page) []byte {
	header, body, ok, unterminated := splitFrontMatter(src)
	if unterminated {
		p.Warnings = append(p.Warnings, "front matter is missing its closing delimiter")
		return src
	}
	if !ok || len(header) == 0 {
		return body
	}
	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		p.Warnings = append(p.Warnings, "front matter is not valid YAML: "+err.Error())
		return body
	}
	p.Config.Endpoint = fm.Livedocs.Endpoint
	p.Config.Debug = fm.Livedocs.Debug
	return body
}
