package metrics

import "time"

// RouteOutcome enumerates router dispositions for counters.
type RouteOutcome string

const (
	RouteDelivered      RouteOutcome = "delivered"
	RouteMalformed      RouteOutcome = "malformed"
	RouteMissingBlockID RouteOutcome = "missing_block_id"
	RouteNoHandler      RouteOutcome = "no_handler"
	RouteUnknownAction  RouteOutcome = "unknown_action"
	RouteInvalidPayload RouteOutcome = "invalid_payload"
	RouteHandlerPanic   RouteOutcome = "handler_panic"
)

// Recorder defines observability hooks for routing, execution, transport and persistence.
// All methods must be safe to call on the NoopRecorder.
type Recorder interface {
	IncRouted(outcome RouteOutcome)
	IncHandlerOverwrite()
	ObserveExecution(language, outcome string, d time.Duration)
	IncSuperseded(language string)
	SetConnected(connected bool)
	IncReconnectAttempt()
	IncPersistenceSave(success bool)
	SetActiveBlocks(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncRouted(RouteOutcome)                          {}
func (NoopRecorder) IncHandlerOverwrite()                            {}
func (NoopRecorder) ObserveExecution(string, string, time.Duration) {}
func (NoopRecorder) IncSuperseded(string)                            {}
func (NoopRecorder) SetConnected(bool)                               {}
func (NoopRecorder) IncReconnectAttempt()                            {}
func (NoopRecorder) IncPersistenceSave(bool)                         {}
func (NoopRecorder) SetActiveBlocks(int)                             {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
