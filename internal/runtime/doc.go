// Package runtime owns process-level lifecycle for the collector.
//
// A Runtime guards single-instance execution with an exclusive,
// non-blocking file lock, translates OS signals into a graceful stop,
// and turns "how many consumers are active" into "should ingestion
// run": collectors registered with it are started when the first
// reader acquires a token and stopped when the last one releases.
// There is no package-level singleton; the process entry point
// constructs one Runtime and passes it down.
package runtime
