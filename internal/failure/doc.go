// Package failure owns the run error taxonomy.
//
// Ownership boundary:
// - taxonomy sentinels shared by naming, mesh i/o, worker, transfer and emission
// - pipeline stages
// - per-partition failure diagnostics and their wire codes
//
// Every failure that reaches the collector is a *PartitionError naming the
// partition index and the stage that failed.
package failure
