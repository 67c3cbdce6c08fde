package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const page = `<html><head><meta name="livedocs-ws-url" content="ws://docs.local/ws"></head><body>
<pre data-block-id="intro" data-block-type="static">ls -la</pre>
<pre data-block-id="ok" data-block-type="sandbox" data-language="python">print(1 + 1)</pre>
<pre data-block-id="boom" data-block-type="sandbox" data-language="python">print(1/0)</pre>
<pre data-block-id="odd" data-block-type="widget"></pre>
</body></html>`

type result struct {
	code           int
	stdout, stderr string
}

func invoke(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut, func(int) {})
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func writePage(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "guide.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0o600))
	return dir, path
}

func TestInitWritesConfigOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "livedocs.yaml")

	res := invoke(t, "-c", cfg, "init")
	require.Equal(t, 0, res.code, res.stderr)
	require.Contains(t, res.stdout, "initialized successfully")
	require.FileExists(t, cfg)

	res = invoke(t, "-c", cfg, "init")
	require.Equal(t, 7, res.code)
	require.Contains(t, res.stderr, "initialization failed")

	res = invoke(t, "-c", cfg, "init", "--force")
	require.Equal(t, 0, res.code, res.stderr)
}

func TestBlocksListsDiscoveredMarkers(t *testing.T) {
	_, path := writePage(t)

	res := invoke(t, "blocks", path)
	require.Equal(t, 0, res.code, res.stderr)
	require.Contains(t, res.stdout, "intro")
	require.Contains(t, res.stdout, "sandbox")
	require.Contains(t, res.stdout, "endpoint: ws://docs.local/ws")
	require.Contains(t, res.stdout, `skipped "odd"`)
}

func TestBlocksJSON(t *testing.T) {
	_, path := writePage(t)

	res := invoke(t, "blocks", "--json", "--key", "/guide/", path)
	require.Equal(t, 0, res.code, res.stderr)

	var got struct {
		Key    string
		Blocks []struct {
			ID string `json:"id"`
		}
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	require.Equal(t, "/guide/", got.Key)
	require.Len(t, got.Blocks, 3)
	require.Equal(t, "boom", got.Blocks[2].ID)
}

func TestBlocksMissingPageIsUsageError(t *testing.T) {
	res := invoke(t, "blocks", filepath.Join(t.TempDir(), "nope.html"))
	require.Equal(t, 2, res.code)
}

func TestExecUnknownBlockIsNotFound(t *testing.T) {
	dir, path := writePage(t)

	res := invoke(t, "-c", filepath.Join(dir, "livedocs.yaml"), "exec", path, "missing")
	require.Equal(t, 3, res.code)
	require.Contains(t, res.stderr, "block not found")
}

func TestExecStaticBlockDoesNotRun(t *testing.T) {
	dir, path := writePage(t)

	res := invoke(t, "-c", filepath.Join(dir, "livedocs.yaml"), "exec", path, "intro")
	require.Equal(t, 2, res.code)
}

func TestExecSandboxBlock(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
	dir, path := writePage(t)
	cfg := filepath.Join(dir, "livedocs.yaml")

	res := invoke(t, "-c", cfg, "exec", path, "ok")
	require.Equal(t, 0, res.code, res.stderr)
	require.Equal(t, "2\n", res.stdout)

	res = invoke(t, "-c", cfg, "exec", path, "boom")
	require.Equal(t, 4, res.code)

	res = invoke(t, "-c", cfg, "exec", "--code", "print('edited')", path, "ok")
	require.Equal(t, 0, res.code, res.stderr)
	require.Equal(t, "edited\n", res.stdout)
}

const mixedPage = `<html><head><meta name="livedocs-ws-url" content="ws://127.0.0.1:1/ws"></head><body>
<pre data-block-id="remote" data-block-type="server" data-language="go">fmt.Println(1)</pre>
<pre data-block-id="lines" data-block-type="sandbox" data-language="sh">echo one; echo two</pre>
</body></html>`

func TestExecKeepsLineBreaksAndSurvivesUnreachableBackend(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.html")
	require.NoError(t, os.WriteFile(path, []byte(mixedPage), 0o600))
	cfg := filepath.Join(dir, "livedocs.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("reconnect:\n  initial: 10ms\n  max: 20ms\n  max_retries: 1\n"), 0o600))

	res := invoke(t, "-c", cfg, "exec", path, "lines")
	require.Equal(t, 0, res.code, res.stderr)
	require.Equal(t, "one\ntwo\n", res.stdout)

	res = invoke(t, "-c", cfg, "exec", path, "remote")
	require.NotEqual(t, 0, res.code)
}
