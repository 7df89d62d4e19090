// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the pipeline's orchestrators and state machine, which depend on them
// instead of on each other.
package store
