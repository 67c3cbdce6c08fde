package block

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/livedocs/internal/editor"
	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/output"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
)

// Run starts a run of the current code. A run already in flight is superseded.
// The call returns once the run is started; its result arrives asynchronously.
func (b *Block) Run(ctx context.Context) error {
	if !b.meta.Kind.Runnable() {
		return ErrNotRunnable.WithContext("block_id", b.meta.ID).WithContext("kind", string(b.meta.Kind))
	}
	switch b.meta.Kind {
	case KindSandbox:
		return b.runLocal()
	default:
		return b.runServer(ctx)
	}
}

func (b *Block) checkRunnableLocked() error {
	switch {
	case b.state.Phase == PhaseDisposed:
		return ErrDisposed
	case !b.state.Phase.canRun():
		return ferrors.ValidationError("block cannot run in its current phase").
			WithContext("block_id", b.meta.ID).
			WithContext("phase", string(b.state.Phase)).
			Build()
	}
	return nil
}

func (b *Block) runLocal() error {
	b.mu.Lock()
	if err := b.checkRunnableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	code := b.state.Code
	exec := b.executor
	b.transitionLocked(PhaseExecuting)
	// Execute takes the next executor generation.
	gen := exec.Generation() + 1
	b.state.Generation = gen
	b.panel.Reset(gen)
	ch := exec.Execute(b.ctx, code, b.meta.Language)
	b.mu.Unlock()

	go func() {
		res, ok := <-ch
		if !ok {
			return
		}
		b.finish(res)
	}()
	return nil
}

func (b *Block) onLocalChunk(gen uint64, chunk string) {
	if b.panel.Append(gen, chunk) {
		b.deps.Bus.Notify(events.OutputChunk{BlockID: b.meta.ID, Generation: gen, Chunk: chunk})
	}
}

func (b *Block) runServer(ctx context.Context) error {
	b.mu.Lock()
	if b.state.Phase != PhaseDisposed && !b.connected {
		b.mu.Unlock()
		return ErrNotConnected.WithContext("block_id", b.meta.ID)
	}
	if err := b.checkRunnableLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.state.Generation++
	gen := b.state.Generation
	code := b.state.Code
	b.transitionLocked(PhaseExecuting)
	b.panel.Reset(gen)
	if b.serverTimer != nil {
		b.serverTimer.Stop()
	}
	b.serverTimer = time.AfterFunc(b.deps.ServerTimeout, func() { b.serverTimeout(gen) })
	b.mu.Unlock()

	env, err := protocol.NewEnvelope(b.meta.ID, protocol.ActionRun, protocol.RunPayload{
		Code:       code,
		Language:   b.meta.Language,
		Generation: gen,
	})
	if err == nil {
		err = b.send(ctx, env)
	}
	if err != nil {
		b.mu.Lock()
		if b.state.Generation == gen && b.state.Phase == PhaseExecuting {
			if b.serverTimer != nil {
				b.serverTimer.Stop()
				b.serverTimer = nil
			}
			// the request never left; the block stays usable
			b.state.LastResult = &sandbox.Result{Generation: gen, Outcome: sandbox.OutcomeInfrastructure, Diagnostic: err.Error()}
			b.transitionLocked(PhaseIdle)
		}
		b.mu.Unlock()
		b.logger.Warn("Failed to send run request", logfields.Generation(gen), logfields.Error(err))
		return err
	}
	b.logger.Debug("Run requested", logfields.Generation(gen))
	return nil
}

func (b *Block) serverTimeout(gen uint64) {
	b.finish(sandbox.Result{
		Generation: gen,
		Outcome:    sandbox.OutcomeRuntimeError,
		Output:     b.panel.Chunks(),
		Diagnostic: fmt.Sprintf("timeout: no result within %s", b.deps.ServerTimeout),
		Duration:   b.deps.ServerTimeout,
	})
}

// abortServerRunLocked ends a server run whose result can no longer arrive.
func (b *Block) abortServerRunLocked(reason string) {
	if b.serverTimer != nil {
		b.serverTimer.Stop()
		b.serverTimer = nil
	}
	b.state.LastResult = &sandbox.Result{Generation: b.state.Generation, Outcome: sandbox.OutcomeCanceled, Diagnostic: reason}
	b.transitionLocked(PhaseIdle)
}

// finish applies a result. Results for a stale generation, or arriving when the
// block is not executing, are discarded. Infrastructure failures move the block
// to Error; every other outcome returns it to Idle.
func (b *Block) finish(res sandbox.Result) {
	b.mu.Lock()
	if res.Generation != b.state.Generation || b.state.Phase != PhaseExecuting {
		b.mu.Unlock()
		b.logger.Debug("Discarding stale result", logfields.Generation(res.Generation))
		return
	}
	if b.serverTimer != nil {
		b.serverTimer.Stop()
		b.serverTimer = nil
	}
	r := res
	r.Output = append([]string(nil), res.Output...)
	b.state.LastResult = &r
	if res.Outcome == sandbox.OutcomeInfrastructure {
		b.failLocked(ferrors.SandboxError(res.Diagnostic).WithContext("block_id", b.meta.ID).Build())
	} else {
		b.transitionLocked(PhaseIdle)
	}
	b.mu.Unlock()

	b.panel.SetResult(output.Status{Generation: res.Generation, Outcome: string(res.Outcome), Diagnostic: res.Diagnostic}, res.Output)
	b.logger.Info("Run finished",
		logfields.Generation(res.Generation),
		logfields.Outcome(string(res.Outcome)),
		logfields.DurationMS(float64(res.Duration.Microseconds())/1000))
	b.deps.Bus.Notify(events.ExecutionFinished{
		BlockID:    b.meta.ID,
		Generation: res.Generation,
		Outcome:    string(res.Outcome),
		Output:     append([]string(nil), res.Output...),
		Diagnostic: res.Diagnostic,
		Duration:   res.Duration,
	})
}

// SendEvent forwards an interactive user event to the backend.
func (b *Block) SendEvent(ctx context.Context, name string, value []byte) error {
	if b.meta.Kind != KindInteractive {
		return ferrors.ValidationError("only interactive blocks send events").WithContext("block_id", b.meta.ID).Build()
	}
	b.mu.Lock()
	phase, connected := b.state.Phase, b.connected
	b.mu.Unlock()
	if phase == PhaseDisposed {
		return ErrDisposed
	}
	if !connected || phase != PhaseConnected {
		return ErrNotConnected.WithContext("block_id", b.meta.ID)
	}
	env, err := protocol.NewEnvelope(b.meta.ID, protocol.ActionEvent, protocol.EventPayload{Name: name, Value: value})
	if err != nil {
		return err
	}
	return b.send(ctx, env)
}

// handle is the router handler for connection-backed blocks. It runs on the
// transport read loop, so envelopes for one block are applied in arrival order.
func (b *Block) handle(action protocol.Action, payload protocol.Payload) {
	if b.Phase() == PhaseDisposed {
		return
	}
	switch p := payload.(type) {
	case protocol.StatePayload:
		b.applyState(p)
	case protocol.ResultPayload:
		b.applyResult(p)
	case protocol.OutputPayload:
		b.applyOutput(p)
	case protocol.ErrorPayload:
		b.applyError(p)
	default:
		b.logger.Warn("Ignoring client-bound action from server", logfields.Action(string(action)))
		b.deps.Bus.Notify(events.AnomalyReported{BlockID: b.meta.ID, Kind: "unexpected_action", Detail: string(action)})
	}
}

func (b *Block) applyState(p protocol.StatePayload) {
	b.mu.Lock()
	if len(p.State) > 0 {
		b.state.Remote = append(b.state.Remote[:0], p.State...)
	}
	var ed editor.Adapter
	if p.Code != nil {
		b.state.Code = *p.Code
		b.state.Dirty = false
		ed = b.editor
	}
	if b.meta.Kind == KindInteractive && b.state.Phase == PhaseRegistered {
		b.transitionLocked(PhaseConnected)
	}
	b.mu.Unlock()

	if ed != nil {
		ed.SetValue(*p.Code)
	}
}

func (b *Block) applyResult(p protocol.ResultPayload) {
	if b.meta.Kind != KindServer {
		return
	}
	gen := p.Generation
	if gen == 0 {
		b.discardUntagged(protocol.ActionResult)
		return
	}

	outcome := sandbox.OutcomeSuccess
	if !p.Success {
		outcome = sandbox.OutcomeRuntimeError
		if p.Kind == "compile" {
			outcome = sandbox.OutcomeCompileError
		}
	}
	out := p.Output
	if out == nil {
		out = b.panel.Chunks()
	}
	b.finish(sandbox.Result{Generation: gen, Outcome: outcome, Output: out, Diagnostic: p.Error})
}

func (b *Block) applyOutput(p protocol.OutputPayload) {
	gen := p.Generation
	if gen == 0 {
		b.discardUntagged(protocol.ActionOutput)
		return
	}
	b.mu.Lock()
	executing := b.state.Phase == PhaseExecuting
	b.mu.Unlock()
	if !executing {
		return
	}
	b.onLocalChunk(gen, p.Chunk)
}

// discardUntagged drops run output that carries no generation; it cannot be
// told apart from a superseded run's late answer.
func (b *Block) discardUntagged(action protocol.Action) {
	b.logger.Warn("Discarding run output without generation", logfields.Action(string(action)))
	b.deps.Bus.Notify(events.AnomalyReported{BlockID: b.meta.ID, Kind: "untagged_" + string(action), Detail: "generation missing"})
}

func (b *Block) applyError(p protocol.ErrorPayload) {
	if p.Fatal {
		b.mu.Lock()
		b.failLocked(ferrors.RuntimeError(p.Message).WithContext("block_id", b.meta.ID).Build())
		b.mu.Unlock()
		return
	}
	b.logger.Warn("Backend reported block error", slog.String("message", p.Message))
	b.mu.Lock()
	executing := b.state.Phase == PhaseExecuting
	gen := b.state.Generation
	b.mu.Unlock()
	if executing {
		b.finish(sandbox.Result{Generation: gen, Outcome: sandbox.OutcomeRuntimeError, Output: b.panel.Chunks(), Diagnostic: p.Message})
	}
}
