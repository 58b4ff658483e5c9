// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 9829 {
		t.Errorf("Port = %d, want 9829", cfg.Port)
	}
	if cfg.Engine.PredictionLimit != 20 || cfg.Engine.ScoreThreshold != 0.2 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Engine.RefreshInterval != 30*time.Minute {
		t.Errorf("RefreshInterval = %s", cfg.Engine.RefreshInterval)
	}
	if cfg.Prepare.BatchSize != 10 || cfg.Prepare.FeedbackRetentionDays != 90 {
		t.Errorf("prepare defaults = %+v", cfg.Prepare)
	}
	if cfg.TermSync.ManifestKey != "terminology/manifest.json" {
		t.Errorf("ManifestKey = %q", cfg.TermSync.ManifestKey)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
port: 8088
debug: true
data-dir: /var/lib/edgecache
translation:
  endpoint: https://translate.example.com/api
  api-key: k-123
  timeout-seconds: 5
engine:
  min-samples: 25
  base-aggressiveness: 0.7
  refresh-interval: 10m
prepare:
  batch-size: 8
network-monitor:
  websocket-url: ws://127.0.0.1:9830/events
steering:
  rules:
    - name: night-emergency
      condition: context == "emergency" && hour >= 20
      action: boost
      factor: 1.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 8088 || !cfg.Debug || cfg.DataDir != "/var/lib/edgecache" {
		t.Errorf("top-level = %+v", cfg)
	}
	if cfg.Translation.Endpoint != "https://translate.example.com/api" || cfg.Translation.TimeoutSeconds != 5 {
		t.Errorf("translation = %+v", cfg.Translation)
	}
	if cfg.Engine.MinSamples != 25 || cfg.Engine.BaseAggressiveness != 0.7 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.RefreshInterval != 10*time.Minute {
		t.Errorf("RefreshInterval = %s", cfg.Engine.RefreshInterval)
	}
	// Unset fields keep their defaults.
	if cfg.Engine.PredictionLimit != 20 {
		t.Errorf("PredictionLimit = %d, want default 20", cfg.Engine.PredictionLimit)
	}
	if cfg.NetMonitor.WebsocketURL != "ws://127.0.0.1:9830/events" {
		t.Errorf("netmon = %+v", cfg.NetMonitor)
	}
	if len(cfg.Steering.Rules) != 1 || cfg.Steering.Rules[0].Action != SteeringBoost {
		t.Errorf("steering = %+v", cfg.Steering)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "port: [not a port\n")
	if _, err := Load(path); err == nil {
		t.Error("bad YAML accepted")
	}
}

func TestValidateClamps(t *testing.T) {
	cfg := Default()
	cfg.Engine.MinSamples = 0
	cfg.Engine.SaveEvery = -1
	cfg.Engine.BaseAggressiveness = 0
	cfg.Prepare.BatchSize = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.Engine.MinSamples != 10 || cfg.Engine.SaveEvery != 10 {
		t.Errorf("engine clamps = %+v", cfg.Engine)
	}
	if cfg.Engine.BaseAggressiveness != 0.5 {
		t.Errorf("BaseAggressiveness = %v", cfg.Engine.BaseAggressiveness)
	}
	if cfg.Prepare.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want clamp to 5", cfg.Prepare.BatchSize)
	}

	cfg.Prepare.BatchSize = 40
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.Prepare.BatchSize != 15 {
		t.Errorf("BatchSize = %d, want clamp to 15", cfg.Prepare.BatchSize)
	}
}

func TestValidateRejections(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 accepted")
	}

	cfg = Default()
	cfg.Engine.WeightSmoothing = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("weight-smoothing 1.5 accepted")
	}

	cfg = Default()
	cfg.Steering.Rules = []SteeringRule{{Name: "bad", Action: "explode"}}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown steering action accepted")
	}
}

func TestValidateSteeringFactorDefault(t *testing.T) {
	cfg := Default()
	cfg.Steering.Rules = []SteeringRule{{Name: "r", Action: SteeringSuppress}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.Steering.Rules[0].Factor != 1.0 {
		t.Errorf("Factor = %v, want 1.0 default", cfg.Steering.Rules[0].Factor)
	}
}

func TestCheckAdminKey(t *testing.T) {
	cfg := Default()
	if !cfg.CheckAdminKey("anything") {
		t.Error("empty hash must accept every key")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg.AdminKeyHash = string(hash)
	if !cfg.CheckAdminKey("s3cret") {
		t.Error("correct key rejected")
	}
	if cfg.CheckAdminKey("wrong") {
		t.Error("wrong key accepted")
	}
}
