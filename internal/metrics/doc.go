// Package metrics provides observability hooks for the livedocs runtime.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never require nil checks at call sites:
//
//	r := router.New(logger, metrics.NoopRecorder{})
//
// When diagnostics are enabled the runtime swaps in a PrometheusRecorder bound to
// a private registry, served by HTTPHandler.
package metrics
