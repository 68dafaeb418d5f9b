package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for values the server cannot start with.
func Validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	durations := map[string]string{
		"estimator.idle_timeout": cfg.Estimator.IdleTimeout,
		"sessions.idle_timeout":  cfg.Sessions.IdleTimeout,
		"sessions.reap_interval": cfg.Sessions.ReapInterval,
		"delivery.timeout":       cfg.Delivery.Timeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	if cfg.Estimator.Workers < 0 {
		return fmt.Errorf("estimator.workers must be >= 0")
	}
	if cfg.Estimator.QueueSize < 0 {
		return fmt.Errorf("estimator.queue_size must be >= 0")
	}
	if c := cfg.Estimator.MinConfidence; c < 0 || c > 1 {
		return fmt.Errorf("estimator.min_confidence must be between 0 and 1")
	}

	if cfg.Thresholds.ElbowAngleDeg < 0 || cfg.Thresholds.ShoulderTilt < 0 || cfg.Thresholds.TiltScale < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}

	switch cfg.Delivery.Kind {
	case "", "http", "none":
	case "mqtt":
		if cfg.Delivery.MQTT.Broker == "" {
			return fmt.Errorf("delivery.mqtt.broker is required when delivery.kind is mqtt")
		}
		if cfg.Delivery.MQTT.QoS > 2 {
			return fmt.Errorf("delivery.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("delivery.kind must be http, mqtt or none, got %q", cfg.Delivery.Kind)
	}

	return nil
}
