package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays DISPATCH_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("DISPATCH_ROUTING_KEYS"); v != "" {
		parts := strings.Split(v, ",")
		cfg.RoutingKeys = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.RoutingKeys = append(cfg.RoutingKeys, p)
			}
		}
	}
	if v := os.Getenv("DISPATCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.MaxAttempts = n
		}
	}
	if v := os.Getenv("DISPATCH_PAYLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.PayloadMaxBytes = n
		}
	}
	overlayDuration("DISPATCH_BACKOFF_BASE", &cfg.Broker.BackoffBase)
	overlayDuration("DISPATCH_BACKOFF_MAX", &cfg.Broker.BackoffMax)
	overlayDuration("DISPATCH_LEASE_DURATION", &cfg.Broker.LeaseDuration)
	overlayDuration("DISPATCH_SWEEP_INTERVAL", &cfg.Broker.SweepInterval)
	overlayDuration("DISPATCH_DONE_RETENTION", &cfg.Broker.DoneRetention)
	overlayDuration("DISPATCH_DLQ_RETENTION", &cfg.Broker.DeadLetterRetention)
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Workers = n
		}
	}
	overlayDuration("DISPATCH_POLL_INTERVAL", &cfg.Worker.PollInterval)
	if v := os.Getenv("DISPATCH_MAX_CONSECUTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxConsecutive = n
		}
	}
}

func overlayDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
