// Package lifecycle holds the rules of the bordereau lifecycle: per-type
// status graphs, signature checks, revision requests, relations between
// bordereaux and quantity reconciliation. It does no I/O; callers load a
// snapshot, compute a step, then persist it.
package lifecycle
