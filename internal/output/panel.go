// Package output holds a block's output surface: ordered chunks for the current
// run plus the last result, renderable as sanitized HTML.
package output

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// Status is the summary of the last result shown on the panel.
type Status struct {
	Generation uint64
	Outcome    string
	Diagnostic string
}

// Panel collects output chunks in emission order. It is safe for concurrent use.
type Panel struct {
	mu         sync.RWMutex
	generation uint64
	chunks     []string
	status     *Status
}

// NewPanel returns an empty panel.
func NewPanel() *Panel {
	return &Panel{}
}

// Reset clears the panel for a new run of generation gen.
func (p *Panel) Reset(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation = gen
	p.chunks = nil
	p.status = nil
}

// Append adds a chunk for generation gen. Chunks for any other generation are
// ignored and Append returns false.
func (p *Panel) Append(gen uint64, chunk string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return false
	}
	p.chunks = append(p.chunks, chunk)
	return true
}

// SetResult records the final result. When output is non-nil it replaces the
// streamed chunks, since the frozen result is authoritative.
func (p *Panel) SetResult(st Status, output []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Generation != p.generation {
		return false
	}
	if output != nil {
		p.chunks = append([]string(nil), output...)
	}
	p.status = &st
	return true
}

// Chunks returns a copy of the chunks.
func (p *Panel) Chunks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.chunks...)
}

// Status returns the last result, if any.
func (p *Panel) Status() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status == nil {
		return Status{}, false
	}
	return *p.status, true
}

// Text renders the chunks one per line, followed by the diagnostic of a failed run.
func (p *Panel) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var b strings.Builder
	for _, c := range p.chunks {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	if p.status != nil && p.status.Diagnostic != "" {
		b.WriteString(p.status.Diagnostic)
		b.WriteByte('\n')
	}
	return b.String()
}

// HTML renders the panel as a <pre> fragment. Program output is escaped and the
// fragment is then passed through a UGC sanitizer policy.
func (p *Panel) HTML() string {
	p.mu.RLock()
	chunks := append([]string(nil), p.chunks...)
	var st *Status
	if p.status != nil {
		s := *p.status
		st = &s
	}
	p.mu.RUnlock()

	var b strings.Builder
	b.WriteString(`<pre class="livedocs-output">`)
	for i, c := range chunks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(html.EscapeString(c))
	}
	b.WriteString(`</pre>`)
	if st != nil && st.Diagnostic != "" {
		b.WriteString(`<p class="livedocs-diagnostic">`)
		b.WriteString(html.EscapeString(st.Diagnostic))
		b.WriteString(`</p>`)
	}
	return policy.Sanitize(b.String())
}
