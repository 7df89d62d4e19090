// Package task manages background job queuing, processing, and lifecycle.
// It provides the durable progress ledger for long-running jobs, a bounded
// queue drained by a fixed pool of workers, recovery of unfinished jobs after
// a restart, and periodic sweeps that retry stalled work.
package task
