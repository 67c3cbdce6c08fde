package sandbox

import (
	"context"
	"io"
	"strings"
	"sync"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Router is a Runtime that dispatches each request to the runtime registered
// for its language. Each child runtime is initialized on its first request;
// a failure is remembered for that runtime only.
type Router struct {
	mu       sync.Mutex
	byLang   map[string]Runtime
	fallback Runtime
	inits    map[Runtime]*initState
}

type initState struct {
	once sync.Once
	err  error
}

// NewRouter creates an empty Router. fallback, when non-nil, serves unmapped languages.
func NewRouter(fallback Runtime) *Router {
	return &Router{
		byLang:   make(map[string]Runtime),
		fallback: fallback,
		inits:    make(map[Runtime]*initState),
	}
}

// Handle maps languages to rt.
func (r *Router) Handle(rt Runtime, languages ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range languages {
		r.byLang[strings.ToLower(l)] = rt
	}
}

func (r *Router) Name() string { return "router" }

// Init does nothing; child runtimes initialize lazily.
func (r *Router) Init(context.Context) error { return nil }

// Resolve returns the runtime for language.
func (r *Router) Resolve(language string) (Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.byLang[strings.ToLower(language)]; ok {
		return rt, true
	}
	return r.fallback, r.fallback != nil
}

func (r *Router) Run(ctx context.Context, req Request, out io.Writer) error {
	rt, ok := r.Resolve(req.Language)
	if !ok {
		return ferrors.SandboxError("no runtime for language").WithContext("language", req.Language).Build()
	}

	r.mu.Lock()
	st, ok := r.inits[rt]
	if !ok {
		st = &initState{}
		r.inits[rt] = st
	}
	r.mu.Unlock()

	st.once.Do(func() {
		initCtx := context.WithoutCancel(ctx)
		st.err = rt.Init(initCtx)
	})
	if st.err != nil {
		return ferrors.WrapError(st.err, ferrors.CategorySandbox, "runtime initialization failed").
			WithContext("runtime", rt.Name()).Build()
	}
	return rt.Run(ctx, req, out)
}

// Close closes every child runtime that holds resources.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	seen := make(map[Runtime]bool)
	var closers []Closer
	for _, rt := range append(mapValues(r.byLang), r.fallback) {
		if rt == nil || seen[rt] {
			continue
		}
		seen[rt] = true
		if c, ok := rt.(Closer); ok {
			closers = append(closers, c)
		}
	}
	r.mu.Unlock()

	var first error
	for _, c := range closers {
		if err := c.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func mapValues(m map[string]Runtime) []Runtime {
	out := make([]Runtime, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// FromConfig builds the language router described by cfg: every configured
// language runs as a process, and wasm languages (when enabled) take precedence.
func FromConfig(cfg config.SandboxConfig) *Router {
	proc := NewProcessRuntime(cfg.Languages, cfg.WorkDir)
	r := NewRouter(nil)
	r.Handle(proc, proc.Languages()...)
	if cfg.Wasm.Enabled {
		r.Handle(NewWasmRuntime(TinyGoCompiler{Binary: cfg.Wasm.Compiler}), cfg.Wasm.Languages...)
	}
	return r
}
