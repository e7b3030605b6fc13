// Package sinks implements concrete tracking-event consumers: structured
// logging and Prometheus metrics. Each sink satisfies the progress.Sink
// interface and is safe for repeated Consume/Close cycles.
package sinks
