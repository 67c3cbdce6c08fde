package sandbox

import (
	"bytes"
	"sync"
)

const truncatedMarker = "[output truncated]"

// Capture is an io.Writer that splits output into line chunks in emission order.
// It is safe for concurrent writers, such as a process's stdout and stderr.
type Capture struct {
	mu        sync.Mutex
	chunks    []string
	partial   bytes.Buffer
	size      int
	limit     int
	truncated bool
	onChunk   func(string)
}

// NewCapture creates a Capture keeping at most limit bytes (0 means unlimited).
// onChunk, when set, is called for every completed chunk.
func NewCapture(limit int, onChunk func(string)) *Capture {
	return &Capture{limit: limit, onChunk: onChunk}
}

// Write never fails; output beyond the limit is dropped and marked once.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	if c.truncated {
		return n, nil
	}
	if c.limit > 0 && c.size+len(p) > c.limit {
		p = p[:c.limit-c.size]
		c.truncated = true
	}
	c.size += len(p)
	c.partial.Write(p)

	for {
		line, err := c.partial.ReadString('\n')
		if err != nil {
			// incomplete line; keep it for the next write
			c.partial.Reset()
			c.partial.WriteString(line)
			break
		}
		c.emit(line[:len(line)-1])
	}

	if c.truncated {
		c.flushPartial()
		c.emit(truncatedMarker)
	}
	return n, nil
}

func (c *Capture) emit(chunk string) {
	c.chunks = append(c.chunks, chunk)
	if c.onChunk != nil {
		c.onChunk(chunk)
	}
}

func (c *Capture) flushPartial() {
	if c.partial.Len() > 0 {
		s := c.partial.String()
		c.partial.Reset()
		c.emit(s)
	}
}

// Freeze flushes any incomplete line and returns a copy of the chunks.
func (c *Capture) Freeze() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushPartial()
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Truncated reports whether output exceeded the limit.
func (c *Capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// tail keeps the last non-empty line written to it.
type tail struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	last string
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	for _, line := range bytes.Split(t.buf.Bytes(), []byte("\n")) {
		if s := string(bytes.TrimSpace(line)); s != "" {
			t.last = s
		}
	}
	// keep only the incomplete trailing line
	if i := bytes.LastIndexByte(t.buf.Bytes(), '\n'); i >= 0 {
		rest := append([]byte(nil), t.buf.Bytes()[i+1:]...)
		t.buf.Reset()
		t.buf.Write(rest)
	}
	return len(p), nil
}

func (t *tail) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
