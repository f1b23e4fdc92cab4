// Package breaker implements per-agent circuit breaking for the dispatch
// layer. Each downstream agent gets its own three-state breaker (closed,
// open, half-open) driven by a rolling window of call outcomes; a registry
// creates breakers lazily and exposes per-agent health snapshots for the
// observability surface and admin reset.
package breaker
