// Package dispatch wires workers, transfer channels and the collector
// together for each strategy.
//
// Ownership boundary:
// - run options and their fail-fast validation
// - thread runs (arena), worker rank processes (link) and the collector process (hub)
// - the launcher that spawns worker ranks and reaps them
package dispatch
