package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Request is one unit of code to run.
type Request struct {
	BlockID  string
	Language string
	Code     string
}

// Runtime executes code. Run writes program output to out as it is produced.
// Compile failures return *CompileError and program failures *RunError; any
// other error is an infrastructure failure.
type Runtime interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context, req Request, out io.Writer) error
}

// Closer is implemented by runtimes holding resources.
type Closer interface {
	Close(ctx context.Context) error
}

// CompileError reports code that could not be built.
type CompileError struct {
	Language string
	Message  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Language, e.Message)
}

// RunError reports a program that ran and failed.
type RunError struct {
	ExitCode int
	Message  string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return e.Message
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeCompileError   Outcome = "compile_error"
	OutcomeRuntimeError   Outcome = "runtime_error"
	OutcomeInfrastructure Outcome = "infrastructure_error"
	OutcomeCanceled       Outcome = "canceled"
)

// Failed reports whether the outcome is an error of any kind.
func (o Outcome) Failed() bool { return o != OutcomeSuccess }

// Result is the frozen outcome of one run.
type Result struct {
	Generation uint64
	Outcome    Outcome
	Output     []string
	Diagnostic string
	Duration   time.Duration
}
