// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the acquisition core uses to report probes, fetch attempts,
// strategy outcomes, and qualification decisions. Events are batched on a
// background goroutine and fanned out to pluggable sinks such as structured
// logs, Prometheus counters, or the job progress repository.
package progress
