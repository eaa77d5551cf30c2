// Package constants centralizes probe defaults shared across the CLI, the API
// server and the probe core.
//
// Timeouts, byte caps and port limits live here so cmd/, internal/api and
// internal/probe agree on the same numbers without importing each other.
package constants
