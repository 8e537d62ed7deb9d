// Package sinks implements concrete progress consumers: Prometheus metrics,
// the run repository behind the ops API, and structured logging. Each sink
// satisfies progress.Sink and is only ever driven by the hub goroutine.
package sinks
