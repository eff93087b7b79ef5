// Package transfer moves fragments from workers to the collector.
//
// Ownership boundary:
// - Arena: one slot per thread, readable only after the join
// - Hub and Link: framed TCP messages, one FIFO mailbox per worker rank
// - relay sender and receiver: temp files announced over the Link
//
// Every channel carries failures as well as fragments, so the collector
// learns about each dispatched partition exactly once.
package transfer
