// Package exchange defines the venue connectivity contract.
//
// The collector never speaks a venue's wire protocol itself; it
// consumes an Adapter that normalizes streaming watch operations and
// point fetch operations into typed records with millisecond-epoch
// timestamps. The mock subpackage provides a deterministic in-memory
// adapter for tests and dry runs.
package exchange
