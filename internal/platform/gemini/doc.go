// Package gemini provides an implementation of the gateway.Gateway interface
// backed by Google's Gemini API.
//
// Workflow runs are rendered from the shared prompt catalog for the requested
// capability and sent as a single generateContent call in JSON response mode.
// Transient API errors are retried with exponential backoff and jitter;
// blocked or malformed responses are returned immediately. Gemini has no
// knowledge-index endpoint, so IndexContent reports ErrIndexUnsupported and
// callers treat mirroring as best effort.
package gemini
