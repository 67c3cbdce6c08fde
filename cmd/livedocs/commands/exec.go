package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
)

// ExecCmd implements the 'exec' command.
type ExecCmd struct {
	Page    string        `arg:"" help:"HTML or Markdown page containing the block." type:"existingfile"`
	Block   string        `arg:"" help:"ID of the block to run."`
	Key     string        `help:"Page key used for persistence (defaults to the page path)."`
	Code    string        `help:"Run this code instead of the restored source."`
	Timeout time.Duration `help:"Overall deadline; 0 uses the sandbox timeout plus a grace period." default:"0s"`
}

func (e *ExecCmd) Run(g *Global, root *CLI) error {
	ctx := context.Background()
	sess, err := openSession(ctx, g, root, e.Page, e.Key, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = sess.close()
	}()

	b, ok := sess.orch.Block(e.Block)
	if !ok {
		return ferrors.NotFoundError("block not found on page").
			WithContext("block_id", e.Block).
			WithContext("page", e.Page).
			Build()
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = sess.cfg.Sandbox.Timeout + 5*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return runBlock(ctx, g, sess.orch.Bus(), b, e.Code)
}

// runBlock starts b and streams its output to g.Out, one chunk per line, until
// the run finishes.
// A failed run is returned as an execution error carrying the diagnostic.
func runBlock(ctx context.Context, g *Global, bus *events.Bus, b *block.Block, code string) error {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 1024)
	defer unsubscribe()

	if code != "" {
		b.Edit(code)
	}
	if err := b.Run(ctx); err != nil {
		return err
	}

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return ferrors.ExecutionError("no result before deadline").
				WithContext("block_id", b.ID()).
				WithCause(ctx.Err()).
				Build()
		case evt, ok := <-ch:
			if !ok {
				return ferrors.RuntimeError("session closed during run").Build()
			}
			if evt.EventBlockID() != b.ID() {
				continue
			}
			switch ev := evt.(type) {
			case events.OutputChunk:
				_, _ = fmt.Fprintln(g.Out, ev.Chunk)
				printed++
			case events.ExecutionFinished:
				for _, rest := range tail(ev.Output, printed) {
					_, _ = fmt.Fprintln(g.Out, rest)
				}
				return outcomeError(b.ID(), ev)
			case events.PhaseChanged:
				if ev.To == string(block.PhaseError) {
					return ferrors.RuntimeError("block failed").
						WithContext("block_id", b.ID()).
						WithContext("reason", b.Snapshot().Err).
						Build()
				}
			}
		}
	}
}

func tail(output []string, printed int) []string {
	if printed >= len(output) {
		return nil
	}
	return output[printed:]
}

func outcomeError(id string, ev events.ExecutionFinished) error {
	if sandbox.Outcome(ev.Outcome) == sandbox.OutcomeSuccess {
		return nil
	}
	msg := ev.Diagnostic
	if msg == "" {
		msg = ev.Outcome
	}
	return ferrors.ExecutionError(msg).
		WithContext("block_id", id).
		WithContext("outcome", ev.Outcome).
		WithContext("duration", ev.Duration.String()).
		Build()
}
