package config

import "errors"

// Validation errors returned by [StructuredConfig.validate] when required
// configuration groups are incomplete or invalid.
var (
	// ErrInvalidEngineConfigs indicates invalid sync engine settings
	// (for example, a non-positive attempt ceiling).
	ErrInvalidEngineConfigs = errors.New("invalid engine configuration")
	// ErrInvalidAuthorityConfigs indicates invalid authority settings.
	ErrInvalidAuthorityConfigs = errors.New("invalid authority configuration")
)

// validate checks that the final merged [StructuredConfig] satisfies the
// invariants the engine and authority rely on at startup. Addresses are left
// to the component constructors: the same config is shared by binaries that
// need only one side of it.
func (cfg *StructuredConfig) validate() error {
	if cfg.Engine.MaxAttempts <= 0 {
		return ErrInvalidEngineConfigs
	}
	if cfg.Engine.RequestTimeout <= 0 || cfg.Engine.BackoffBase <= 0 {
		return ErrInvalidEngineConfigs
	}
	if cfg.Engine.BackoffCap < cfg.Engine.BackoffBase {
		return ErrInvalidEngineConfigs
	}

	if cfg.Authority.HeartbeatInterval <= 0 {
		return ErrInvalidAuthorityConfigs
	}

	return nil
}
