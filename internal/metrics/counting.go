package metrics

import (
	"sync"
	"time"
)

// CountingRecorder is an in-memory Recorder for tests and the diagnostics summary.
type CountingRecorder struct {
	mu         sync.Mutex
	routed     map[RouteOutcome]int
	overwrites int
	executions map[string]int
	superseded int
	connected  bool
	reconnects int
	saves      map[bool]int
	active     int
}

// NewCountingRecorder returns an empty CountingRecorder.
func NewCountingRecorder() *CountingRecorder {
	return &CountingRecorder{
		routed:     make(map[RouteOutcome]int),
		executions: make(map[string]int),
		saves:      make(map[bool]int),
	}
}

func (c *CountingRecorder) IncRouted(outcome RouteOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routed[outcome]++
}

func (c *CountingRecorder) IncHandlerOverwrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overwrites++
}

func (c *CountingRecorder) ObserveExecution(_ string, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions[outcome]++
}

func (c *CountingRecorder) IncSuperseded(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.superseded++
}

func (c *CountingRecorder) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *CountingRecorder) IncReconnectAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

func (c *CountingRecorder) IncPersistenceSave(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves[success]++
}

func (c *CountingRecorder) SetActiveBlocks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = n
}

// Routed returns the count for one router outcome.
func (c *CountingRecorder) Routed(outcome RouteOutcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routed[outcome]
}

// Overwrites returns the number of handler overwrites.
func (c *CountingRecorder) Overwrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overwrites
}

// Executions returns the count of executions with the given outcome.
func (c *CountingRecorder) Executions(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executions[outcome]
}

// Superseded returns the number of superseded executions.
func (c *CountingRecorder) Superseded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

// Connected reports the last connection state.
func (c *CountingRecorder) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reconnects returns the number of reconnect attempts.
func (c *CountingRecorder) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Saves returns the number of saves with the given result.
func (c *CountingRecorder) Saves(success bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves[success]
}

// ActiveBlocks returns the last active block count.
func (c *CountingRecorder) ActiveBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
