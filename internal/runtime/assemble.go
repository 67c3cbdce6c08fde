package runtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/livedocs/internal/config"
	"git.home.luguber.info/inful/livedocs/internal/debounce"
	"git.home.luguber.info/inful/livedocs/internal/editor"
	"git.home.luguber.info/inful/livedocs/internal/events"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/persistence"
	"git.home.luguber.info/inful/livedocs/internal/retry"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
	"git.home.luguber.info/inful/livedocs/internal/transport"
)

// Env carries process-level collaborators into Assemble.
type Env struct {
	Logger    *slog.Logger
	Recorder  metrics.Recorder
	Bus       *events.Bus
	Registry  *Registry
	SessionID string
	// Dialer overrides the configured transport.
	Dialer transport.Dialer
	// Runtime overrides the configured sandbox runtime.
	Runtime sandbox.Runtime
}

// Assemble builds an Orchestrator from configuration. The store, janitor and
// sandbox runtime it creates are released by Stop.
func Assemble(ctx context.Context, cfg *config.Config, env Env) (*Orchestrator, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := metrics.OrNoop(env.Recorder)
	session := env.SessionID
	if session == "" {
		session = uuid.NewString()
	}

	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}
	var janitor *persistence.Janitor
	if cfg.Persistence.PruneAfter > 0 {
		janitor, err = persistence.NewJanitor(store, cfg.Persistence.PruneAfter, cfg.Persistence.PruneInterval, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	rt := env.Runtime
	if rt == nil {
		rt = sandbox.FromConfig(cfg.Sandbox)
	}
	dialer := env.Dialer
	if dialer == nil {
		dialer = transport.NewDialer(cfg.Runtime.Transport, session)
	}

	o, err := New(Options{
		Endpoint:  cfg.ResolvedEndpoint(),
		Disabled:  cfg.Runtime.Disabled || config.DisabledByEnv(),
		Debug:     cfg.Runtime.Debug,
		Dialer:    dialer,
		Retry:     retry.FromConfig(cfg.Reconnect),
		SendRate:  rate.Limit(cfg.SendRate.PerSecond),
		SendBurst: cfg.SendRate.Burst,
		SessionID: session,

		Store:        persistence.WithMetrics(store, rec),
		Janitor:      janitor,
		SavePolicy:   debounce.Policy{Interval: cfg.Persistence.SaveDebounce, Trailing: true},
		EditorLoader: editorLoader(cfg.Editor, logger),
		EditorPolicy: debounce.Policy{Interval: cfg.Editor.Debounce, Trailing: cfg.Editor.Trailing == nil || *cfg.Editor.Trailing},

		Runtime: rt,
		Sandbox: sandbox.ExecutorOptions{
			Timeout:        cfg.Sandbox.Timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		},
		ServerTimeout: cfg.Sandbox.Timeout,

		Logger:   logger,
		Recorder: rec,
		Bus:      env.Bus,
		Registry: env.Registry,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	o.OnStop(func(context.Context) error { return store.Close() })
	if c, ok := rt.(sandbox.Closer); ok && env.Runtime == nil {
		o.OnStop(c.Close)
	}
	return o, nil
}

func editorLoader(cfg config.EditorConfig, logger *slog.Logger) editor.Loader {
	if cfg.Surface == config.SurfaceFile {
		return editor.FileLoader(cfg.ScratchDir, logger)
	}
	return editor.BufferLoader()
}
