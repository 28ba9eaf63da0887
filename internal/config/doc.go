// Package config loads and validates the monitor configuration.
//
// Configuration is YAML with ${VAR} environment expansion. Validation errors
// are fatal at startup; a monitor with a bad endpoint must refuse to start
// rather than fail silently later.
package config
