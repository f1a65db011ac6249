// Package config loads and merges protosync configuration from environment
// variables, command-line flags, and an optional JSON file.
package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container. It aggregates
// the engine (client) and authority (server) settings and is populated by
// merging values from environment variables, command-line flags, and an
// optional JSON file.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       — direct environment variable name for scalar fields.
type StructuredConfig struct {
	// Engine holds the client-side sync engine settings.
	Engine Engine `envPrefix:"ENGINE_"`

	// Authority holds the reference authority server settings.
	Authority Authority `envPrefix:"AUTHORITY_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// When non-empty, the file is parsed and merged on top of the values
	// already loaded from environment variables and flags.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// Engine holds the knobs of the client-side sync engine.
type Engine struct {
	// ServerAddress is the base address of the remote authority's HTTP API
	// (e.g. "localhost:8080" or "http://localhost:8080").
	// Env: ENGINE_SERVER_ADDRESS
	ServerAddress string `env:"SERVER_ADDRESS"`

	// PushAddress is the websocket address of the authority's push channel
	// (e.g. "ws://localhost:8080/api/events"). Derived from ServerAddress
	// when empty.
	// Env: ENGINE_PUSH_ADDRESS
	PushAddress string `env:"PUSH_ADDRESS"`

	// RequestTimeout bounds one network attempt. A timeout is treated like
	// any other transient transport failure for retry purposes.
	// Env: ENGINE_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// MaxAttempts is the attempt ceiling per outbound message. A mutation
	// whose every attempt fails reaches the error state after exactly this
	// many attempts.
	// Env: ENGINE_MAX_ATTEMPTS
	MaxAttempts int `env:"MAX_ATTEMPTS"`

	// BackoffBase is the first retry delay of the exponential backoff.
	// Env: ENGINE_BACKOFF_BASE
	BackoffBase time.Duration `env:"BACKOFF_BASE"`

	// BackoffCap bounds the exponential backoff delay.
	// Env: ENGINE_BACKOFF_CAP
	BackoffCap time.Duration `env:"BACKOFF_CAP"`

	// RefreshInterval is the cadence of the periodic full re-listing that
	// reconciles state missed while the push channel was down. Zero or
	// negative disables the job.
	// Env: ENGINE_REFRESH_INTERVAL
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL"`
}

// Authority holds the reference authority server settings.
type Authority struct {
	// Address is the TCP address the HTTP server listens on, in
	// "host:port" format.
	// Env: AUTHORITY_ADDRESS
	Address string `env:"ADDRESS"`

	// DSN is the sqlite data source name of the authority store
	// (e.g. "protosync.db" or ":memory:").
	// Env: AUTHORITY_DATABASE_URI
	DSN string `env:"DATABASE_URI"`

	// HeartbeatInterval is the cadence of heartbeat events on the push
	// channel.
	// Env: AUTHORITY_HEARTBEAT_INTERVAL
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
}

// Defaults applied for fields left unset by every source.
const (
	DefaultRequestTimeout    = 10 * time.Second
	DefaultMaxAttempts       = 5
	DefaultBackoffBase       = 250 * time.Millisecond
	DefaultBackoffCap        = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRefreshInterval   = 5 * time.Minute
)

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (first non-zero value wins per field):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//  4. Built-in defaults
//
// Returns a fully populated *StructuredConfig or an error if any source
// fails to load or the final config fails validation.
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags().
		withJSON().
		withDefaults().
		build()
}
