// Package errors provides the classified error type used across livedocs.
//
// Every failure in the runtime falls into one of a small set of categories that
// decide how far it may travel:
//   - protocol errors (malformed envelopes, unknown targets) are dropped at the router
//   - execution errors (compile/runtime failures of user code) become block output
//   - infrastructure errors (sandbox, editor surface, connection setup) disable one block
//   - transport errors (connection drops) trigger a disconnect notification and reconnect
//
// Errors are constructed with the fluent builder:
//
//	err := errors.SandboxError("runtime failed to initialize").
//		WithContext("runtime", "wasm").
//		WithCause(cause).
//		Build()
package errors
