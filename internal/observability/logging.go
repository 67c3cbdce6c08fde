package observability

import (
	"context"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/livedocs/internal/config"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	SessionID string
	PageKey   string
	BlockID   string
	Command   string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithSessionID adds the shared-connection session id to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.SessionID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithPageKey adds a page key to the context.
func WithPageKey(ctx context.Context, key string) context.Context {
	lc := extractLogContext(ctx)
	lc.PageKey = key
	return context.WithValue(ctx, logContextKey, lc)
}

// WithBlockID adds a block id to the context.
func WithBlockID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.BlockID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithCommand adds the CLI command name to the context.
func WithCommand(ctx context.Context, name string) context.Context {
	lc := extractLogContext(ctx)
	lc.Command = name
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	var attrs []slog.Attr
	if lc.SessionID != "" {
		attrs = append(attrs, logfields.Session(lc.SessionID))
	}
	if lc.PageKey != "" {
		attrs = append(attrs, logfields.PageKey(lc.PageKey))
	}
	if lc.BlockID != "" {
		attrs = append(attrs, logfields.BlockID(lc.BlockID))
	}
	if lc.Command != "" {
		attrs = append(attrs, slog.String("command", lc.Command))
	}
	return attrs
}

// NewLogger builds the process logger. Context values set with the With*
// helpers are added to every record logged with a context.
func NewLogger(level config.LogLevel, format config.LogFormat, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(level)}
	var h slog.Handler
	if config.NormalizeLogFormat(string(format)) == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(&ContextHandler{Handler: h})
}

// Level maps a configured level to slog.
func Level(level config.LogLevel) slog.Level {
	switch config.NormalizeLogLevel(string(level)) {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ContextHandler adds LogContext attributes to each record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := getLogAttrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
