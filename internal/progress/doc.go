// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that tracking sessions use to report what happened on their
// connection. Events are batched on a background goroutine and fanned out to
// pluggable sinks such as structured logs or Prometheus metrics.
package progress
