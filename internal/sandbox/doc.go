// Package sandbox runs user-edited code in isolated runtimes and captures its output.
//
// An Executor owns one block's runs. Each Execute call cancels the run in flight
// and bumps the generation; only the result of the current generation is
// delivered. Every run is bounded by a timeout, and the runtime is initialized
// lazily on first use.
//
// Runtimes:
//
//	ProcessRuntime  one OS process per run, driven by a language table
//	WasmRuntime     compiles to WASI and runs the module in wazero
//	Router          selects a runtime by language
package sandbox
