// Package generation drives AI question generation for a course topic.
//
// A generation request becomes a ledger record and a background job. The job
// asks the AI gateway for batches of candidate questions, deduplicates them
// against the question bank, persists what is new and advances the ledger,
// until the requested count is reached or the failure budget runs out.
package generation
