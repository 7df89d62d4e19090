// Package config handles configuration loading, parsing, and validation
// from various sources (.env files, config files, environment variables). It
// provides type-safe access to settings needed by the orchestrators, the
// worker pool and the AI gateway while keeping configuration details separate
// from business logic.
package config
