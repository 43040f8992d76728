// Package graph runs directed graphs of workflow steps: sequential actions,
// parallel fan-out and join, conditional branches, bounded loops and
// human-approval gates.
//
// An Engine walks each execution with an explicit frontier of pending steps.
// A gate parks the whole walk; the execution keeps its frontier so Resume can
// continue exactly where it stopped once approval is given. Periodic
// checkpoints capture state, history and frontier, and ResumeFromCheckpoint
// re-enters traversal from any of them.
//
// Node failures are recorded on the execution's history and never abort the
// walk. Handlers see a private copy of the shared state and return the keys to
// merge back; parallel branches merge in declaration order at the join.
package graph
