package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
)

// DefaultTimeout bounds a run when ExecutorOptions.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	BlockID        string
	Timeout        time.Duration
	InitTimeout    time.Duration
	MaxOutputBytes int
	// OnChunk receives output chunks of the current generation as they are produced.
	OnChunk  func(generation uint64, chunk string)
	Logger   *slog.Logger
	Recorder metrics.Recorder
}

// Executor runs one block's code on a Runtime with supersede semantics.
type Executor struct {
	runtime Runtime
	opts    ExecutorOptions
	logger  *slog.Logger
	rec     metrics.Recorder

	initOnce sync.Once
	initErr  error

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	closed     bool
	wg         sync.WaitGroup
}

// NewExecutor creates an Executor for rt. The runtime is not initialized until the first Execute.
func NewExecutor(rt Runtime, opts ExecutorOptions) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runtime: rt,
		opts:    opts,
		logger:  logger.With(logfields.Component("sandbox"), logfields.BlockID(opts.BlockID)),
		rec:     metrics.OrNoop(opts.Recorder),
	}
}

// Generation returns the generation of the most recent Execute call.
func (e *Executor) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Execute starts a run and returns immediately. Any run in flight is canceled and
// its result discarded: its channel is closed without a value. The channel of the
// current run receives exactly one Result and is then closed.
func (e *Executor) Execute(ctx context.Context, code, language string) <-chan Result {
	ch := make(chan Result, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		ch <- Result{Outcome: OutcomeCanceled, Diagnostic: "executor closed"}
		close(ch)
		return ch
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.generation++
	gen := e.generation
	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer cancel()
		res := e.run(ctx, runCtx, gen, Request{BlockID: e.opts.BlockID, Language: language, Code: code})
		e.deliver(ch, res, language)
	}()
	return ch
}

func (e *Executor) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation && !e.closed
}

func (e *Executor) deliver(ch chan Result, res Result, language string) {
	defer close(ch)

	e.mu.Lock()
	stale := res.Generation != e.generation
	e.mu.Unlock()

	if stale {
		e.rec.IncSuperseded(language)
		e.logger.Debug("Discarding superseded result", logfields.Generation(res.Generation))
		return
	}
	e.rec.ObserveExecution(language, string(res.Outcome), res.Duration)
	ch <- res
}

func (e *Executor) run(parent, runCtx context.Context, gen uint64, req Request) Result {
	start := time.Now()
	res := Result{Generation: gen}

	if err := e.ensureInit(parent); err != nil {
		res.Outcome = OutcomeInfrastructure
		res.Diagnostic = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	capture := NewCapture(e.opts.MaxOutputBytes, func(chunk string) {
		if e.opts.OnChunk != nil && e.current(gen) {
			e.opts.OnChunk(gen, chunk)
		}
	})
	err := e.runtime.Run(runCtx, req, capture)
	res.Duration = time.Since(start)
	res.Output = capture.Freeze()
	res.Outcome, res.Diagnostic = e.classify(parent, runCtx, err)

	e.logger.Debug("Run finished",
		logfields.Generation(gen),
		logfields.Language(req.Language),
		logfields.Outcome(string(res.Outcome)),
		logfields.DurationMS(float64(res.Duration.Microseconds())/1000))
	return res
}

func (e *Executor) classify(parent, runCtx context.Context, err error) (Outcome, string) {
	switch {
	case parent.Err() != nil:
		return OutcomeCanceled, "run canceled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return OutcomeRuntimeError, fmt.Sprintf("timeout: run exceeded %s", e.opts.Timeout)
	case runCtx.Err() != nil:
		return OutcomeCanceled, "run superseded"
	case err == nil:
		return OutcomeSuccess, ""
	}

	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return OutcomeCompileError, compileErr.Message
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return OutcomeRuntimeError, runErr.Error()
	}
	return OutcomeInfrastructure, err.Error()
}

// ensureInit initializes the runtime once. Its context is detached from the
// triggering run so superseding that run does not poison the runtime.
func (e *Executor) ensureInit(ctx context.Context) error {
	e.initOnce.Do(func() {
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.InitTimeout)
		defer cancel()
		if err := e.runtime.Init(initCtx); err != nil {
			e.initErr = ferrors.WrapError(err, ferrors.CategorySandbox, "sandbox runtime initialization failed").
				UserAction().
				WithContext("runtime", e.runtime.Name()).
				Build()
			e.logger.Error("Sandbox runtime unavailable", logfields.Runtime(e.runtime.Name()), logfields.Error(err))
		}
	})
	return e.initErr
}

// Close cancels any run in flight and waits for it to finish. Later Execute
// calls return a canceled result.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation++
	e.mu.Unlock()
	e.wg.Wait()
}
