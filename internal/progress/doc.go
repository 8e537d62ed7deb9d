// Package progress carries crawl milestones from the walker, resolver and
// pipeline to pluggable sinks (structured logs, Prometheus, the run store)
// through a non-blocking, batching Hub.
package progress
