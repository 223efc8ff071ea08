package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// RoutingKeys are the handler domains submissions may target.
	RoutingKeys []string `json:"routingKeys"`
	Broker      Broker   `json:"broker"`
	Worker      Worker   `json:"worker"`
}

// Broker captures queue and retry tunables.
type Broker struct {
	MaxAttempts     int `json:"maxAttempts"`
	PayloadMaxBytes int `json:"payloadMaxBytes"`
	// Durations are JSON strings like "500ms" or "30s".
	BackoffBase         Duration `json:"backoffBase"`
	BackoffMax          Duration `json:"backoffMax"`
	LeaseDuration       Duration `json:"leaseDuration"`
	SweepInterval       Duration `json:"sweepInterval"`
	DoneRetention       Duration `json:"doneRetention"`
	DeadLetterRetention Duration `json:"deadLetterRetention"`
}

// Worker captures the executor pool tunables.
type Worker struct {
	Workers      int      `json:"workers"`
	PollInterval Duration `json:"pollInterval"`
	// MaxConsecutive bounds back-to-back claims from higher priority classes
	// before the lowest class gets a forced turn.
	MaxConsecutive int `json:"maxConsecutive"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		RoutingKeys: []string{"ingestion", "embedding", "notification"},
		Broker: Broker{
			MaxAttempts:         5,
			PayloadMaxBytes:     1 << 20,
			BackoffBase:         Duration(500 * time.Millisecond),
			BackoffMax:          Duration(60 * time.Second),
			LeaseDuration:       Duration(30 * time.Second),
			SweepInterval:       Duration(2 * time.Second),
			DoneRetention:       Duration(24 * time.Hour),
			DeadLetterRetention: Duration(7 * 24 * time.Hour),
		},
		Worker: Worker{
			Workers:        4,
			PollInterval:   Duration(250 * time.Millisecond),
			MaxConsecutive: 4,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Duration marshals as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		// Bare numbers are milliseconds.
		*d = Duration(time.Duration(val) * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}
