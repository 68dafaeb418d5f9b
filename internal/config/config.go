// Package config loads the formcheck server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr    string           `yaml:"listen_addr"`
	DataDir       string           `yaml:"data_dir"`
	AllowedOrigin string           `yaml:"allowed_origin"` // websocket origin; empty or "*" allows any
	Reference     ReferenceConfig  `yaml:"reference"`
	Estimator     EstimatorConfig  `yaml:"estimator"`
	Sessions      SessionsConfig   `yaml:"sessions"`
	Thresholds    ThresholdsConfig `yaml:"thresholds"`
	Delivery      DeliveryConfig   `yaml:"delivery"`
}

// ReferenceConfig locates the reference motion.
type ReferenceConfig struct {
	Path string `yaml:"path"` // video file, or a .json keypoint file from refextract
}

// EstimatorConfig configures the pose estimation workers.
type EstimatorConfig struct {
	Python        string  `yaml:"python"`         // interpreter; empty finds a venv or python3
	Script        string  `yaml:"script"`         // pose service script; empty searches the usual places
	MinConfidence float64 `yaml:"min_confidence"` // keypoint confidence below which a joint is reported missing
	Workers       int     `yaml:"workers"`        // one estimator process per worker
	QueueSize     int     `yaml:"queue_size"`     // pending frames per worker
	IdleTimeout   string  `yaml:"idle_timeout"`   // stop an idle estimator process after this long
}

// SessionsConfig controls abandoned session cleanup.
type SessionsConfig struct {
	IdleTimeout    string `yaml:"idle_timeout"`
	ReapInterval   string `yaml:"reap_interval"`
	TrajectorySize int    `yaml:"trajectory_size"`
}

// ThresholdsConfig holds the bicep curl rule thresholds.
type ThresholdsConfig struct {
	ElbowAngleDeg float64 `yaml:"elbow_angle_deg"`
	ShoulderTilt  float64 `yaml:"shoulder_tilt"`
	TiltScale     float64 `yaml:"tilt_scale"`
}

// DeliveryConfig selects where session reports go.
type DeliveryConfig struct {
	Kind    string     `yaml:"kind"` // http, mqtt or none
	URL     string     `yaml:"url"`
	Timeout string     `yaml:"timeout"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr:    "localhost:5000",
		DataDir:       filepath.Join(home, ".formcheck"),
		AllowedOrigin: "http://localhost:5173",
		Reference: ReferenceConfig{
			Path: filepath.Join("reference", "bicep_correct.mp4"),
		},
		Estimator: EstimatorConfig{
			MinConfidence: 0.5,
			Workers:       2,
			QueueSize:     8,
			IdleTimeout:   "30s",
		},
		Sessions: SessionsConfig{
			IdleTimeout:    "5m",
			ReapInterval:   "30s",
			TrajectorySize: 600,
		},
		Thresholds: ThresholdsConfig{
			ElbowAngleDeg: 10,
			ShoulderTilt:  0.1,
			TiltScale:     100,
		},
		Delivery: DeliveryConfig{
			Kind:    "http",
			URL:     "http://localhost:3000/api/v1/log-session",
			Timeout: "10s",
			MQTT: MQTTConfig{
				Topic:    "formcheck/sessions",
				ClientID: "formcheck",
				QoS:      1,
			},
		},
	}
}

// Load reads a YAML configuration file. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DatabasePath returns the session history database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "formcheck.db")
}

// EstimatorIdleTimeout returns estimator.idle_timeout as a duration.
func (c *Config) EstimatorIdleTimeout() time.Duration {
	return mustDuration(c.Estimator.IdleTimeout)
}

// SessionIdleTimeout returns sessions.idle_timeout as a duration.
func (c *Config) SessionIdleTimeout() time.Duration {
	return mustDuration(c.Sessions.IdleTimeout)
}

// ReapInterval returns sessions.reap_interval as a duration.
func (c *Config) ReapInterval() time.Duration {
	return mustDuration(c.Sessions.ReapInterval)
}

// DeliveryTimeout returns delivery.timeout as a duration.
func (c *Config) DeliveryTimeout() time.Duration {
	return mustDuration(c.Delivery.Timeout)
}

// mustDuration parses a duration already checked by Validate. Empty or invalid
// values yield 0, which callers treat as "use the default".
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
