package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncRouted(RouteDelivered)
	r.ObserveExecution("go", "success", time.Millisecond)
	r.SetConnected(true)

	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Fatal("OrNoop(nil) should return NoopRecorder")
	}
}

func TestCountingRecorder(t *testing.T) {
	c := NewCountingRecorder()
	c.IncRouted(RouteDelivered)
	c.IncRouted(RouteDelivered)
	c.IncRouted(RouteNoHandler)
	c.IncHandlerOverwrite()
	c.ObserveExecution("python", "runtime_error", time.Second)
	c.IncSuperseded("python")
	c.SetConnected(true)
	c.IncPersistenceSave(false)
	c.SetActiveBlocks(4)

	if c.Routed(RouteDelivered) != 2 || c.Routed(RouteNoHandler) != 1 {
		t.Fatalf("unexpected routed counts")
	}
	if c.Overwrites() != 1 || c.Superseded() != 1 || c.Saves(false) != 1 {
		t.Fatalf("unexpected counters")
	}
	if c.Executions("runtime_error") != 1 || !c.Connected() || c.ActiveBlocks() != 4 {
		t.Fatalf("unexpected state")
	}
}
