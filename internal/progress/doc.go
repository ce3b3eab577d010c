// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the crawl engine uses to report run and page milestones.
// Events batch on a background goroutine and fan out to pluggable sinks such
// as Prometheus collectors or the metadata repository.
package progress
