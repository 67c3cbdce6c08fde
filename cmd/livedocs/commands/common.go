// Package commands implements the livedocs CLI subcommands.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/observability"
)

// Global is shared state bound into every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"livedocs.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Blocks  BlocksCmd  `cmd:"" help:"List the executable blocks discovered on a page"`
	Exec    ExecCmd    `cmd:"" help:"Run one block of a page and print its output"`
	Session SessionCmd `cmd:"" help:"Run a live session for a page until interrupted"`
	Watch   WatchCmd   `cmd:"" help:"Run a live session and re-discover blocks when the page changes"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing and installs a bootstrap logger. Commands
// that load configuration replace it via loadConfig.
func (c *CLI) AfterApply(g *Global) error {
	if g.Out == nil {
		g.Out = os.Stdout
	}
	if g.Err == nil {
		g.Err = os.Stderr
	}
	level := config.LogLevelInfo
	if c.Verbose {
		level = config.LogLevelDebug
	}
	g.Logger = observability.NewLogger(level, config.LogFormatText, g.Err)
	slog.SetDefault(g.Logger)
	return nil
}

// loadConfig reads the configuration file and rebuilds the logger from its
// logging section. --verbose and runtime.debug both force debug level.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load configuration").
			WithContext("path", c.Config).
			UserAction().
			Build()
	}
	level := cfg.Logging.Level
	if c.Verbose || cfg.Runtime.Debug {
		level = config.LogLevelDebug
	}
	g.Logger = observability.NewLogger(level, cfg.Logging.Format, g.Err)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

// enableDebug forces debug logging and debug routing, as a page's debug flag requests.
func enableDebug(g *Global, cfg *config.Config) {
	cfg.Runtime.Debug = true
	g.Logger = observability.NewLogger(config.LogLevelDebug, cfg.Logging.Format, g.Err)
	slog.SetDefault(g.Logger)
}
