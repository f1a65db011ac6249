package config

import (
	"flag"
	"time"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-a authority listen address in format [host]:[port]
//	-d sqlite DSN of the authority store
//	-server-address base address of the authority HTTP API (engine side)
//	-push-address websocket address of the push channel (engine side)
//	-request-timeout per-attempt network timeout (e.g., "10s")
//	-max-attempts attempt ceiling per outbound message
//	-backoff-base first retry delay of the exponential backoff
//	-backoff-cap upper bound of the retry delay
//	-refresh-interval cadence of the periodic full re-listing
//	-heartbeat-interval push channel heartbeat cadence
//	-c/-config json file path with configs
func ParseFlags() *StructuredConfig {
	var listenAddress string
	var databaseDSN string
	var serverAddress string
	var pushAddress string
	var requestTimeout time.Duration
	var maxAttempts int
	var backoffBase time.Duration
	var backoffCap time.Duration
	var refreshInterval time.Duration
	var heartbeatInterval time.Duration
	var jsonConfigPath string

	flag.StringVar(&listenAddress, "a", "", "Authority listen address host:port")
	flag.StringVar(&databaseDSN, "d", "", "Authority sqlite DSN")
	flag.StringVar(&serverAddress, "server-address", "", "Authority HTTP API base address")
	flag.StringVar(&pushAddress, "push-address", "", "Push channel websocket address")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Per-attempt network timeout (e.g., 10s)")
	flag.IntVar(&maxAttempts, "max-attempts", 0, "Attempt ceiling per outbound message")
	flag.DurationVar(&backoffBase, "backoff-base", 0, "First retry delay")
	flag.DurationVar(&backoffCap, "backoff-cap", 0, "Retry delay upper bound")
	flag.DurationVar(&refreshInterval, "refresh-interval", 0, "Full re-listing cadence")
	flag.DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "Heartbeat cadence")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")

	flag.Parse()

	return &StructuredConfig{
		Engine: Engine{
			ServerAddress:   serverAddress,
			PushAddress:     pushAddress,
			RequestTimeout:  requestTimeout,
			MaxAttempts:     maxAttempts,
			BackoffBase:     backoffBase,
			BackoffCap:      backoffCap,
			RefreshInterval: refreshInterval,
		},
		Authority: Authority{
			Address:           listenAddress,
			DSN:               databaseDSN,
			HeartbeatInterval: heartbeatInterval,
		},
		JSONFilePath: jsonConfigPath,
	}
}
