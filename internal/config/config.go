// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the edge cache
// daemon. It handles loading and parsing the YAML configuration file
// and provides structured access to engine tunables, collaborator
// endpoints, and the admin API settings.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the admin API binds to. Empty binds all.
	Host string `yaml:"host"`
	// Port is the admin API port.
	Port int `yaml:"port"`

	// AdminKeyHash is the bcrypt hash of the admin API key. Empty
	// disables authentication (local-only deployments).
	AdminKeyHash string `yaml:"admin-key-hash"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile writes logs to rotating files under DataDir/logs.
	LoggingToFile bool `yaml:"logging-to-file"`

	// DataDir is the root directory for persisted state.
	DataDir string `yaml:"data-dir"`

	Translation TranslationConfig `yaml:"translation"`
	Engine      EngineConfig      `yaml:"engine"`
	Prepare     PrepareConfig     `yaml:"prepare"`
	ML          MLConfig          `yaml:"ml"`
	NetMonitor  NetMonitorConfig  `yaml:"network-monitor"`
	TermSync    TermSyncConfig    `yaml:"terminology-sync"`
	Steering    SteeringConfig    `yaml:"steering"`
	Plugins     PluginConfig      `yaml:"plugins"`
}

// TranslationConfig points at the remote translation endpoint used to
// warm the cache.
type TranslationConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api-key"`
	// TimeoutSeconds bounds a single warm-up request.
	TimeoutSeconds int `yaml:"timeout-seconds"`
}

// EngineConfig holds the core predictive-engine tunables.
type EngineConfig struct {
	// MinSamples is the minimum usage-log size before the aggregator
	// will build a model.
	MinSamples int `yaml:"min-samples"`

	// MaxLogEntries caps the usage log (ring-buffer eviction).
	MaxLogEntries int `yaml:"max-log-entries"`

	// SaveEvery persists the usage log every Nth append.
	SaveEvery int `yaml:"save-every"`

	// PredictionLimit is the default maximum number of predictions.
	PredictionLimit int `yaml:"prediction-limit"`

	// ScoreThreshold is the base prediction score threshold, scaled
	// down as aggressiveness rises.
	ScoreThreshold float64 `yaml:"score-threshold"`

	// BaseAggressiveness seeds the adaptive strategy controller.
	BaseAggressiveness float64 `yaml:"base-aggressiveness"`

	// WeightSmoothing is the EMA factor applied when adaptive score
	// weights are updated during a rebuild (0 freezes the weights).
	WeightSmoothing float64 `yaml:"weight-smoothing"`

	// RefreshInterval re-runs aggregation and prediction refresh.
	RefreshInterval time.Duration `yaml:"refresh-interval"`
	// SyncInterval drives remote sync (terminology manifest, model).
	SyncInterval time.Duration `yaml:"sync-interval"`
	// DeviceSampleInterval drives device/battery sampling.
	DeviceSampleInterval time.Duration `yaml:"device-sample-interval"`
	// SessionSampleInterval drives session bookkeeping.
	SessionSampleInterval time.Duration `yaml:"session-sample-interval"`
}

// PrepareConfig tunes the offline preparation orchestrator.
type PrepareConfig struct {
	// BatchSize is the per-batch concurrency; clamped to [5, 15].
	BatchSize int `yaml:"batch-size"`
	// BatchPause is the pause between batches.
	BatchPause time.Duration `yaml:"batch-pause"`
	// MinCriticalItems is the floor below which preparation is not
	// worth running and space reclamation is attempted instead.
	MinCriticalItems int `yaml:"min-critical-items"`
	// FeedbackDB is the SQLite file recording per-item outcomes,
	// resolved under DataDir when relative.
	FeedbackDB string `yaml:"feedback-db"`
	// FeedbackRetentionDays bounds outcome history.
	FeedbackRetentionDays int `yaml:"feedback-retention-days"`
}

// MLConfig configures the optional ONNX forecasting adapter.
type MLConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ModelPath         string `yaml:"model-path"`
	SharedLibraryPath string `yaml:"shared-library-path"`
	// InitTimeout bounds adapter initialization so an unavailable
	// runtime cannot block startup.
	InitTimeout time.Duration `yaml:"init-timeout"`
	// TrainTimeout bounds a training pass.
	TrainTimeout time.Duration `yaml:"train-timeout"`
}

// NetMonitorConfig configures the push connection to the local network
// monitor daemon.
type NetMonitorConfig struct {
	// WebsocketURL is the monitor's event stream, e.g.
	// ws://127.0.0.1:9830/events. Empty disables the push client.
	WebsocketURL string `yaml:"websocket-url"`
	// ReconnectInterval waits between reconnect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect-interval"`
}

// TermSyncConfig configures terminology-dictionary sync from object
// storage. Missing credentials disable the syncer.
type TermSyncConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Bucket      string `yaml:"bucket"`
	AccessKey   string `yaml:"access-key"`
	SecretKey   string `yaml:"secret-key"`
	UseSSL      bool   `yaml:"use-ssl"`
	ManifestKey string `yaml:"manifest-key"`
	// LocalDir stores downloaded dictionaries, resolved under DataDir
	// when relative.
	LocalDir string `yaml:"local-dir"`
}

// Steering rule actions.
const (
	SteeringBoost    = "boost"
	SteeringSuppress = "suppress"
	SteeringPin      = "pin"
)

// SteeringRule is one operator-defined prediction adjustment. The
// condition is an expr expression evaluated per prediction.
type SteeringRule struct {
	Name      string  `yaml:"name"`
	Condition string  `yaml:"condition"`
	// Action is one of "boost", "suppress", "pin".
	Action string  `yaml:"action"`
	Factor float64 `yaml:"factor"`
}

// SteeringConfig holds the operator steering rules.
type SteeringConfig struct {
	Rules []SteeringRule `yaml:"rules"`
}

// PluginConfig points at optional Lua strategy hooks.
type PluginConfig struct {
	// LocationStrategy is a Lua script emitting location-based
	// predictions. Empty disables the hook.
	LocationStrategy string `yaml:"location-strategy"`
	// DeviceStrategy is a Lua script emitting device-state
	// predictions.
	DeviceStrategy string `yaml:"device-strategy"`
}

// Default returns a configuration with all tunables at their documented
// defaults.
func Default() *Config {
	return &Config{
		Port:    9829,
		DataDir: "data",
		Translation: TranslationConfig{
			TimeoutSeconds: 15,
		},
		Engine: EngineConfig{
			MinSamples:            10,
			MaxLogEntries:         1000,
			SaveEvery:             10,
			PredictionLimit:       20,
			ScoreThreshold:        0.2,
			BaseAggressiveness:    0.5,
			WeightSmoothing:       0.3,
			RefreshInterval:       30 * time.Minute,
			SyncInterval:          60 * time.Minute,
			DeviceSampleInterval:  1 * time.Minute,
			SessionSampleInterval: 5 * time.Minute,
		},
		Prepare: PrepareConfig{
			BatchSize:             10,
			BatchPause:            500 * time.Millisecond,
			MinCriticalItems:      5,
			FeedbackDB:            "feedback.db",
			FeedbackRetentionDays: 90,
		},
		ML: MLConfig{
			InitTimeout:  30 * time.Second,
			TrainTimeout: 60 * time.Second,
		},
		NetMonitor: NetMonitorConfig{
			ReconnectInterval: 10 * time.Second,
		},
		TermSync: TermSyncConfig{
			ManifestKey: "terminology/manifest.json",
			LocalDir:    "terminology",
		},
	}
}

// Load reads and parses the YAML configuration file at path, applying
// defaults for anything unset. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and normalizes out-of-range tunables.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Engine.MinSamples < 1 {
		c.Engine.MinSamples = 10
	}
	if c.Engine.SaveEvery < 1 {
		c.Engine.SaveEvery = 10
	}
	if c.Engine.BaseAggressiveness <= 0 {
		c.Engine.BaseAggressiveness = 0.5
	}
	if c.Engine.WeightSmoothing < 0 || c.Engine.WeightSmoothing > 1 {
		return fmt.Errorf("config: weight-smoothing must be in [0,1], got %v", c.Engine.WeightSmoothing)
	}
	if c.Prepare.BatchSize < 5 {
		c.Prepare.BatchSize = 5
	}
	if c.Prepare.BatchSize > 15 {
		c.Prepare.BatchSize = 15
	}
	for i, r := range c.Steering.Rules {
		switch r.Action {
		case SteeringBoost, SteeringSuppress, SteeringPin:
		default:
			return fmt.Errorf("config: steering rule %q has unknown action %q", r.Name, r.Action)
		}
		if r.Factor <= 0 {
			c.Steering.Rules[i].Factor = 1.0
		}
	}
	return nil
}

// CheckAdminKey verifies a presented admin key against the configured
// bcrypt hash. When no hash is configured, every key is accepted.
func (c *Config) CheckAdminKey(key string) bool {
	if c.AdminKeyHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(c.AdminKeyHash), []byte(key)) == nil
}
