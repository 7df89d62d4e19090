// Package memory provides an in-process implementation of store.Store.
//
// It is used by the server when no database is configured and by tests that
// exercise services end to end. Transactions are serialized and applied
// atomically: InTx runs against a private copy of the state and swaps it in
// only when the callback succeeds.
package memory
