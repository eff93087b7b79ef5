// Package collector merges the fragments of one run into a single mesh.
//
// Ownership boundary:
// - gather in plan order, or first-ready per rank with plan-order reassembly
// - per-partition failure accounting and the partial-result report
// - emission of the combined mesh and the elapsed-time record
package collector
