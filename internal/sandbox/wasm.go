package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Compiler turns source into a WASI module.
type Compiler interface {
	Compile(ctx context.Context, req Request) ([]byte, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, req Request) ([]byte, error)

func (f CompilerFunc) Compile(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

// TinyGoCompiler builds Go source with the tinygo toolchain targeting WASI.
type TinyGoCompiler struct {
	Binary string // defaults to "tinygo"
}

func (c TinyGoCompiler) binary() string {
	if c.Binary == "" {
		return "tinygo"
	}
	return c.Binary
}

// Available reports whether the compiler binary is on PATH.
func (c TinyGoCompiler) Available() bool {
	_, err := exec.LookPath(c.binary())
	return err == nil
}

func (c TinyGoCompiler) Compile(ctx context.Context, req Request) ([]byte, error) {
	dir, err := os.MkdirTemp("", "livedocs-tinygo-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "main.go")
	if err := os.WriteFile(src, []byte(req.Code), 0o600); err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "main.wasm")

	cmd := exec.CommandContext(ctx, c.binary(), "build", "-o", out, "-target", "wasi", src)
	cmd.Dir = dir
	var diag strings.Builder
	cmd.Stdout = &diag
	cmd.Stderr = &diag
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil, &CompileError{Language: req.Language, Message: strings.TrimSpace(diag.String())}
		}
		return nil, err
	}
	return os.ReadFile(out)
}

// WasmRuntime compiles requests with a Compiler and runs them in wazero.
// The run context bounds the module's lifetime.
type WasmRuntime struct {
	compiler Compiler

	mu      sync.Mutex
	runtime wazero.Runtime
	cache   wazero.CompilationCache
}

// NewWasmRuntime creates a runtime using compiler.
func NewWasmRuntime(compiler Compiler) *WasmRuntime {
	if compiler == nil {
		compiler = TinyGoCompiler{}
	}
	return &WasmRuntime{compiler: compiler}
}

func (w *WasmRuntime) Name() string { return "wasm" }

// Init starts the wazero runtime and installs WASI.
func (w *WasmRuntime) Init(ctx context.Context) error {
	if tc, ok := w.compiler.(TinyGoCompiler); ok && !tc.Available() {
		return ferrors.SandboxError("wasm compiler not found").
			WithContext("compiler", tc.binary()).Build()
	}

	cache := wazero.NewCompilationCache()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return ferrors.WrapError(err, ferrors.CategorySandbox, "instantiate WASI").Build()
	}

	w.mu.Lock()
	w.runtime = rt
	w.cache = cache
	w.mu.Unlock()
	return nil
}

func (w *WasmRuntime) Run(ctx context.Context, req Request, out io.Writer) error {
	w.mu.Lock()
	rt := w.runtime
	w.mu.Unlock()
	if rt == nil {
		return ferrors.SandboxError("wasm runtime not initialized").Build()
	}

	bin, err := w.compiler.Compile(ctx, req)
	if err != nil {
		return err
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return &CompileError{Language: req.Language, Message: err.Error()}
	}
	defer compiled.Close(ctx)

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(req.BlockID).
		WithStdout(out).
		WithStderr(out)

	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return &RunError{ExitCode: int(exitErr.ExitCode()), Message: exitErr.Error()}
	}
	// Traps (unreachable, integer divide by zero, out of bounds) are program failures.
	return &RunError{ExitCode: -1, Message: err.Error()}
}

// Close releases the wazero runtime.
func (w *WasmRuntime) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.runtime != nil {
		err = w.runtime.Close(ctx)
		w.runtime = nil
	}
	if w.cache != nil {
		_ = w.cache.Close(ctx)
		w.cache = nil
	}
	return err
}
