package events

import "time"

// Event is implemented by every livedocs notification. Subscribing to Event
// receives all of them.
type Event interface {
	EventBlockID() string
}

// PhaseChanged is emitted after a block's lifecycle transition.
type PhaseChanged struct {
	BlockID string
	From    string
	To      string
	At      time.Time
}

// OutputChunk is one ordered piece of output for a block's current run.
type OutputChunk struct {
	BlockID    string
	Generation uint64
	Chunk      string
}

// ExecutionFinished reports the delivered result of a run.
type ExecutionFinished struct {
	BlockID    string
	Generation uint64
	Outcome    string
	Output     []string
	Diagnostic string
	Duration   time.Duration
}

// Connected is emitted when the shared connection is (re)established.
type Connected struct {
	Endpoint string
	Attempt  int
	At       time.Time
}

// Disconnected is emitted when the shared connection drops. Blocks stay registered.
type Disconnected struct {
	Endpoint string
	Reason   string
	At       time.Time
}

// AnomalyReported records a tolerated protocol or lifecycle anomaly, such as a
// handler overwrite or an envelope for an unknown block.
type AnomalyReported struct {
	BlockID string
	Kind    string
	Detail  string
}

func (e PhaseChanged) EventBlockID() string      { return e.BlockID }
func (e OutputChunk) EventBlockID() string       { return e.BlockID }
func (e ExecutionFinished) EventBlockID() string { return e.BlockID }
func (e Connected) EventBlockID() string         { return "" }
func (e Disconnected) EventBlockID() string      { return "" }
func (e AnomalyReported) EventBlockID() string   { return e.BlockID }
