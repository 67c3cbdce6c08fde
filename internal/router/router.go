// Package router demultiplexes inbound envelopes on the shared connection to
// per-block handlers.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
)

// Handler receives envelopes addressed to one block. The payload has already been
// validated against the action.
type Handler func(action protocol.Action, payload protocol.Payload)

// Outcome is the disposition of one Route call.
type Outcome = metrics.RouteOutcome

// Route outcomes.
const (
	Delivered      = metrics.RouteDelivered
	Malformed      = metrics.RouteMalformed
	MissingBlockID = metrics.RouteMissingBlockID
	NoHandler      = metrics.RouteNoHandler
	UnknownAction  = metrics.RouteUnknownAction
	InvalidPayload = metrics.RouteInvalidPayload
	HandlerPanic   = metrics.RouteHandlerPanic
)

// Options configures a Router. Every field is optional.
type Options struct {
	Logger   *slog.Logger
	Recorder metrics.Recorder
	Bus      *events.Bus // receives AnomalyReported notifications
	Debug    bool        // logs every delivery at debug level
}

// Router maps block ids to handlers. At most one handler is bound per id; a later
// registration replaces the earlier one.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	logger   *slog.Logger
	recorder metrics.Recorder
	bus      *events.Bus
	debug    atomic.Bool
}

// New creates an empty Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   logger.With(logfields.Component("router")),
		recorder: metrics.OrNoop(opts.Recorder),
		bus:      opts.Bus,
	}
	r.debug.Store(opts.Debug)
	return r
}

// SetDebug toggles per-envelope debug logging.
func (r *Router) SetDebug(on bool) { r.debug.Store(on) }

// Debug reports whether per-envelope debug logging is on.
func (r *Router) Debug() bool { return r.debug.Load() }

// Register binds handler to blockID. Overwriting an existing binding is allowed
// and reported as an anomaly.
func (r *Router) Register(blockID string, handler Handler) error {
	if blockID == "" {
		return ferrors.ValidationError("cannot register handler without block id").Build()
	}
	if handler == nil {
		return ferrors.ValidationError("handler is nil").WithContext("block_id", blockID).Build()
	}

	r.mu.Lock()
	_, existed := r.handlers[blockID]
	r.handlers[blockID] = handler
	r.mu.Unlock()

	if existed {
		r.logger.Warn("Overwriting handler for block", logfields.BlockID(blockID))
		r.recorder.IncHandlerOverwrite()
		r.bus.Notify(events.AnomalyReported{BlockID: blockID, Kind: "handler_overwrite", Detail: "handler replaced"})
		return nil
	}
	if r.debug.Load() {
		r.logger.Debug("Registered handler", logfields.BlockID(blockID))
	}
	return nil
}

// Unregister removes the binding for blockID. Later envelopes for it are dropped.
func (r *Router) Unregister(blockID string) {
	r.mu.Lock()
	delete(r.handlers, blockID)
	r.mu.Unlock()

	if r.debug.Load() {
		r.logger.Debug("Unregistered handler", logfields.BlockID(blockID))
	}
}

// Route decodes message and delivers it to the bound handler. message may be raw
// bytes, a string, or an Envelope value or pointer. Route never fails: every
// problem is logged, counted, and reflected in the returned Outcome.
func (r *Router) Route(message any) Outcome {
	env, err := toEnvelope(message)
	if err != nil {
		r.logger.Error("Error routing message", logfields.Error(err))
		return r.count(Malformed)
	}

	if err := env.Validate(); err != nil {
		r.logger.Error("Message missing blockID", logfields.Action(string(env.Action)))
		return r.count(MissingBlockID)
	}

	r.mu.RLock()
	handler, ok := r.handlers[env.BlockID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("No handler for block", logfields.BlockID(env.BlockID), logfields.Action(string(env.Action)))
		r.bus.Notify(events.AnomalyReported{BlockID: env.BlockID, Kind: "no_handler", Detail: string(env.Action)})
		return r.count(NoHandler)
	}

	payload, err := protocol.DecodePayload(env)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownAction) {
			r.logger.Warn("Dropping envelope with unknown action",
				logfields.BlockID(env.BlockID), logfields.Action(string(env.Action)))
			return r.count(UnknownAction)
		}
		r.logger.Warn("Dropping envelope with invalid payload",
			logfields.BlockID(env.BlockID), logfields.Action(string(env.Action)), logfields.Error(err))
		return r.count(InvalidPayload)
	}

	if r.debug.Load() {
		r.logger.Debug("Routing envelope", logfields.BlockID(env.BlockID), logfields.Action(string(env.Action)))
	}
	return r.count(r.deliver(env, handler, payload))
}

func (r *Router) deliver(env protocol.Envelope, handler Handler, payload protocol.Payload) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Handler panicked",
				logfields.BlockID(env.BlockID),
				logfields.Action(string(env.Action)),
				slog.String("panic", fmt.Sprint(rec)))
			r.bus.Notify(events.AnomalyReported{BlockID: env.BlockID, Kind: "handler_panic", Detail: fmt.Sprint(rec)})
			out = HandlerPanic
		}
	}()
	handler(env.Action, payload)
	return Delivered
}

func (r *Router) count(o Outcome) Outcome {
	r.recorder.IncRouted(o)
	return o
}

// CreateEnvelope formats an outbound envelope. It has no side effects.
func (r *Router) CreateEnvelope(blockID string, action protocol.Action, payload protocol.Payload) (protocol.Envelope, error) {
	return protocol.NewEnvelope(blockID, action, payload)
}

// RegisteredBlocks returns the bound block ids in sorted order.
func (r *Router) RegisteredBlocks() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of bound handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear drops all bindings.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()

	if r.debug.Load() {
		r.logger.Debug("Cleared all handlers")
	}
}

func toEnvelope(message any) (protocol.Envelope, error) {
	switch m := message.(type) {
	case []byte:
		return protocol.Decode(m)
	case string:
		return protocol.Decode([]byte(m))
	case protocol.Envelope:
		return m, nil
	case *protocol.Envelope:
		if m == nil {
			return protocol.Envelope{}, protocol.ErrMalformed
		}
		return *m, nil
	default:
		return protocol.Envelope{}, protocol.ErrMalformed.WithContext("type", fmt.Sprintf("%T", message))
	}
}
