// Package pipeline drains subscription queues into per-symbol storage.
//
// The Persister runs one drain goroutine per queue and lazily opens a
// storage shard the first time a symbol appears. Storage errors are
// logged and counted but never stop the drain; the queues must keep
// moving so producers do not stall behind a bad shard.
package pipeline
