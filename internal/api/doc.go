// Package api exposes the caller-facing operations over HTTP: starting
// generation jobs, reading task progress, the exam attempt lifecycle and a
// per-user notification stream. It translates HTTP concerns to service calls
// and maps domain errors to status codes without leaking internals.
package api
