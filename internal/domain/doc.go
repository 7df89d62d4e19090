// Package domain contains the entities of the exam pipeline: question-bank
// items, papers and publications, attempts with their answer records, mistake
// entries and task ledger records. It holds the pure rules (status transitions,
// answer normalization, score clamping) and the error categories shared by
// every other package, independent of storage or transport.
package domain
