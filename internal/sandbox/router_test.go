package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

func TestRouterDispatchesByLanguage(t *testing.T) {
	py := &fakeRuntime{name: "py", run: func(_ context.Context, _ Request, out io.Writer) error {
		_, err := io.WriteString(out, "py")
		return err
	}}
	wasm := &fakeRuntime{name: "wasm", run: func(_ context.Context, _ Request, out io.Writer) error {
		_, err := io.WriteString(out, "wasm")
		return err
	}}
	r := NewRouter(nil)
	r.Handle(py, "python", "PY")
	r.Handle(wasm, "go")

	var out bytes.Buffer
	require.NoError(t, r.Run(t.Context(), Request{Language: "py"}, &out))
	require.NoError(t, r.Run(t.Context(), Request{Language: "Go"}, &out))
	require.NoError(t, r.Run(t.Context(), Request{Language: "python"}, &out))
	require.Equal(t, "pywasmpy", out.String())
	require.Equal(t, 1, py.InitCalls())
	require.Equal(t, 1, wasm.InitCalls())

	err := r.Run(t.Context(), Request{Language: "rust"}, &out)
	require.True(t, ferrors.HasCategory(err, ferrors.CategorySandbox))
}

func TestRouterInitFailureIsPerRuntime(t *testing.T) {
	broken := &fakeRuntime{name: "broken", initErr: errors.New("no tinygo")}
	ok := &fakeRuntime{name: "ok"}
	r := NewRouter(ok)
	r.Handle(broken, "go")

	require.Error(t, r.Run(t.Context(), Request{Language: "go"}, io.Discard))
	require.Error(t, r.Run(t.Context(), Request{Language: "go"}, io.Discard))
	require.NoError(t, r.Run(t.Context(), Request{Language: "anything"}, io.Discard))
	require.Equal(t, 1, broken.InitCalls())
}

func TestFromConfigMapsLanguages(t *testing.T) {
	r := FromConfig(config.SandboxConfig{
		Languages: config.DefaultLanguages(),
		Wasm:      config.WasmConfig{Enabled: true, Languages: []string{"tinygo"}},
	})
	rt, ok := r.Resolve("python")
	require.True(t, ok)
	require.Equal(t, "process", rt.Name())
	rt, ok = r.Resolve("tinygo")
	require.True(t, ok)
	require.Equal(t, "wasm", rt.Name())
	_, ok = r.Resolve("cobol")
	require.False(t, ok)
}
