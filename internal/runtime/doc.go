// Package runtime wires discovered blocks to the shared connection, the
// persistence store and the sandbox, and owns their lifetime.
//
// One Orchestrator drives one page. It dials only when the page holds a
// server or interactive block, resyncs every connection-backed block after a
// reconnect, and tears everything down on Stop.
package runtime
