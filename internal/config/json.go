package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig mirrors [StructuredConfig] with JSON tags and
// string-friendly durations.
type StructuredJSONConfig struct {
	Engine struct {
		ServerAddress   string   `json:"server_address"`
		PushAddress     string   `json:"push_address"`
		RequestTimeout  Duration `json:"request_timeout"`
		MaxAttempts     int      `json:"max_attempts"`
		BackoffBase     Duration `json:"backoff_base"`
		BackoffCap      Duration `json:"backoff_cap"`
		RefreshInterval Duration `json:"refresh_interval"`
	} `json:"engine,omitempty"`

	Authority struct {
		Address           string   `json:"address"`
		DSN               string   `json:"dsn"`
		HeartbeatInterval Duration `json:"heartbeat_interval"`
	} `json:"authority,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		Engine: Engine{
			ServerAddress:   jsonCfg.Engine.ServerAddress,
			PushAddress:     jsonCfg.Engine.PushAddress,
			RequestTimeout:  time.Duration(jsonCfg.Engine.RequestTimeout),
			MaxAttempts:     jsonCfg.Engine.MaxAttempts,
			BackoffBase:     time.Duration(jsonCfg.Engine.BackoffBase),
			BackoffCap:      time.Duration(jsonCfg.Engine.BackoffCap),
			RefreshInterval: time.Duration(jsonCfg.Engine.RefreshInterval),
		},
		Authority: Authority{
			Address:           jsonCfg.Authority.Address,
			DSN:               jsonCfg.Authority.DSN,
			HeartbeatInterval: time.Duration(jsonCfg.Authority.HeartbeatInterval),
		},
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling
// from strings like "1h", "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
