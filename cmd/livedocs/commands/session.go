package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/livedocs/internal/config"
	"git.home.luguber.info/inful/livedocs/internal/diagnostics"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/page"
	"git.home.luguber.info/inful/livedocs/internal/runtime"
)

// SessionCmd implements the 'session' command.
type SessionCmd struct {
	Page        string `arg:"" help:"HTML or Markdown page to serve." type:"existingfile"`
	Key         string `help:"Page key used for persistence (defaults to the page path)."`
	Diagnostics string `name:"diagnostics" help:"Diagnostics listen address; overrides the config and enables the server."`
}

func (s *SessionCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, g, root, s.Page, s.Key, s.Diagnostics)
	if err != nil {
		return err
	}
	return sess.wait(ctx)
}

// session is one page served by an orchestrator plus its optional diagnostics server.
type session struct {
	cfg     *config.Config
	orch    *runtime.Orchestrator
	handles *runtime.Registry
	logger  *slog.Logger
	errCh   chan error
}

func openSession(ctx context.Context, g *Global, root *CLI, pagePath, key, diagAddr string) (*session, error) {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return nil, err
	}
	if diagAddr != "" {
		cfg.Diagnostics.Enabled = true
		cfg.Diagnostics.Addr = diagAddr
	}
	p, err := page.LoadFile(pagePath, key)
	if err != nil {
		return nil, err
	}
	if p.Config.Debug && !cfg.Runtime.Debug {
		enableDebug(g, cfg)
	}

	reg := metrics.NewRegistry()
	handles := runtime.NewRegistry()
	orch, err := runtime.Assemble(ctx, cfg, runtime.Env{
		Logger:   g.Logger,
		Recorder: metrics.NewPrometheusRecorder(reg),
		Registry: handles,
	})
	if err != nil {
		return nil, err
	}
	sess := &session{
		cfg:     cfg,
		orch:    orch,
		handles: handles,
		logger:  g.Logger,
		errCh:   make(chan error, 1),
	}

	if err := orch.DiscoverBlocks(ctx, p); err != nil {
		sess.close()
		return nil, err
	}
	if err := orch.Start(ctx); err != nil {
		if !ferrors.HasCategory(err, ferrors.CategoryTransport) {
			sess.close()
			return nil, err
		}
		// connection blocks are already failed; local blocks keep working
		g.Logger.Warn("Shared connection unavailable; serving local blocks only",
			logfields.Endpoint(orch.Endpoint()), logfields.Error(err))
	}

	if cfg.Diagnostics.Enabled {
		srv, err := diagnostics.NewServer(diagnostics.Options{
			Addr:     cfg.Diagnostics.Addr,
			Source:   orch,
			Handles:  handles,
			Gatherer: reg,
			Logger:   g.Logger,
		})
		if err != nil {
			sess.close()
			return nil, err
		}
		if err := handles.Set(runtime.HandleDiagnostics, srv); err != nil {
			sess.close()
			return nil, err
		}
		go func() {
			if err := srv.Start(); err != nil {
				sess.errCh <- err
			}
		}()
	}

	g.Logger.Info("Session started",
		logfields.PageKey(orch.PageKey()),
		logfields.Endpoint(orch.Endpoint()),
		slog.Int("blocks", len(orch.BlockIDs())))
	return sess, nil
}

// wait blocks until ctx ends or the diagnostics server fails, then closes the session.
func (s *session) wait(ctx context.Context) error {
	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, stopping session")
	case err = <-s.errCh:
	}
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

// close tears down the registry: diagnostics first, then the orchestrator.
func (s *session) close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.handles.Teardown(stopCtx)
}
