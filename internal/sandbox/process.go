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
	"time"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

const filePlaceholder = "{file}"

// envPassthrough lists the variables a child process inherits; everything else is scrubbed.
var envPassthrough = []string{"PATH", "GOROOT", "GOPATH", "GOCACHE", "GOMODCACHE", "GOFLAGS", "SYSTEMROOT"}

// ProcessRuntime runs each request in a fresh OS process inside a scratch directory.
type ProcessRuntime struct {
	languages map[string]config.LanguageConfig
	workDir   string
	root      string
	waitDelay time.Duration
}

// NewProcessRuntime creates a runtime for the given language table. Scratch
// directories are created under workDir, or the system temp dir when empty.
func NewProcessRuntime(languages map[string]config.LanguageConfig, workDir string) *ProcessRuntime {
	if len(languages) == 0 {
		languages = config.DefaultLanguages()
	}
	return &ProcessRuntime{languages: languages, workDir: workDir, waitDelay: time.Second}
}

func (p *ProcessRuntime) Name() string { return "process" }

// Languages returns the configured language names.
func (p *ProcessRuntime) Languages() []string {
	out := make([]string, 0, len(p.languages))
	for name := range p.languages {
		out = append(out, name)
	}
	return out
}

// Init creates the scratch root.
func (p *ProcessRuntime) Init(context.Context) error {
	root, err := os.MkdirTemp(p.workDir, "livedocs-sandbox-")
	if err != nil {
		return err
	}
	p.root = root
	return nil
}

// Close removes the scratch root.
func (p *ProcessRuntime) Close(context.Context) error {
	if p.root == "" {
		return nil
	}
	return os.RemoveAll(p.root)
}

func (p *ProcessRuntime) Run(ctx context.Context, req Request, out io.Writer) error {
	lang, ok := p.languages[strings.ToLower(req.Language)]
	if !ok {
		return ferrors.SandboxError("no process runtime for language").
			WithContext("language", req.Language).Build()
	}
	if len(lang.Command) == 0 {
		return ferrors.ConfigError("language has no command").WithContext("language", req.Language).Build()
	}

	dir, err := os.MkdirTemp(p.root, "run-")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategorySandbox, "create run directory").Build()
	}
	defer os.RemoveAll(dir)

	var stdin io.Reader
	file := ""
	if lang.File != "" {
		file = filepath.Join(dir, lang.File)
		if err := os.WriteFile(file, []byte(req.Code), 0o600); err != nil {
			return ferrors.WrapError(err, ferrors.CategorySandbox, "write source file").Build()
		}
	} else {
		stdin = strings.NewReader(req.Code)
	}

	if len(lang.Build) > 0 {
		var combined strings.Builder
		cmd, err := p.command(ctx, dir, expand(lang.Build, file), nil)
		if err != nil {
			return err
		}
		cmd.Stdout = &combined
		cmd.Stderr = &combined
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				msg := strings.TrimSpace(combined.String())
				if msg == "" {
					msg = exitErr.Error()
				}
				return &CompileError{Language: req.Language, Message: msg}
			}
			return ferrors.WrapError(err, ferrors.CategorySandbox, "start build").Build()
		}
	}

	cmd, err := p.command(ctx, dir, expand(lang.Command, file), stdin)
	if err != nil {
		return err
	}
	errTail := &tail{}
	shared := &lockedWriter{w: out}
	cmd.Stdout = shared
	cmd.Stderr = io.MultiWriter(shared, errTail)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := errTail.Last()
			if msg == "" {
				msg = exitErr.Error()
			}
			return &RunError{ExitCode: exitErr.ExitCode(), Message: msg}
		}
		return ferrors.WrapError(err, ferrors.CategorySandbox, "start process").Build()
	}
	return nil
}

func (p *ProcessRuntime) command(ctx context.Context, dir string, argv []string, stdin io.Reader) (*exec.Cmd, error) {
	name := argv[0]
	if strings.HasPrefix(name, "./") {
		name = filepath.Join(dir, name)
	} else if _, err := exec.LookPath(name); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategorySandbox, "interpreter not found").
			UserAction().WithContext("command", name).Build()
	}
	cmd := exec.CommandContext(ctx, name, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = scrubbedEnv(dir)
	cmd.Stdin = stdin
	cmd.WaitDelay = p.waitDelay
	return cmd, nil
}

// lockedWriter serializes writes; os/exec copies stdout and stderr from
// separate goroutines when they are distinct writers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func expand(argv []string, file string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, filePlaceholder, file)
	}
	return out
}

func scrubbedEnv(dir string) []string {
	env := []string{"HOME=" + dir, "TMPDIR=" + dir, "LANG=C.UTF-8"}
	for _, key := range envPassthrough {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}
