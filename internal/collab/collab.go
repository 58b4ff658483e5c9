// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package collab defines the contracts for the engine's external
// collaborators: the translation cache, the network monitor, the
// storage manager, and the optional ML forecaster. Every collaborator
// is selected at construction time; documented no-op implementations
// keep the engine fully functional when one is absent.
package collab

import (
	"context"
	"time"

	"github.com/medtranslate/edgecache/internal/model"
)

// CacheStats summarizes the translation cache.
type CacheStats struct {
	ItemCount      int     `json:"item_count"`
	SizeBytes      int64   `json:"size_bytes"`
	LimitBytes     int64   `json:"limit_bytes"`
	AvailableItems int     `json:"available_items"` // headroom in items
	HitRate        float64 `json:"hit_rate"`
}

// CacheItem is one cached translation as seen by the engine.
type CacheItem struct {
	Key             string    `json:"key"`
	ItemType        string    `json:"item_type"`
	SourceLanguage  string    `json:"source_language"`
	TargetLanguage  string    `json:"target_language"`
	Context         string    `json:"context"`
	OfflinePriority bool      `json:"offline_priority"`
	LastAccess      time.Time `json:"last_access"`
}

// OptimizeOptions tunes a cache optimization pass.
type OptimizeOptions struct {
	// TargetFreeItems asks the cache to free at least this many slots.
	TargetFreeItems int
	// PreservePriority keeps offline-priority items during eviction.
	PreservePriority bool
}

// CacheManager is the key/value translation cache collaborator.
type CacheManager interface {
	Stats(ctx context.Context) (*CacheStats, error)
	Items(ctx context.Context, itemType string) ([]CacheItem, error)
	SetPriority(ctx context.Context, key, itemType string, offlinePriority bool) error
	Optimize(ctx context.Context, opts OptimizeOptions) error
	HasItem(ctx context.Context, key string) bool
}

// NetworkStatus is a point-in-time connectivity report.
type NetworkStatus struct {
	Online     bool    `json:"online"`
	Quality    float64 `json:"quality"` // 0.0-1.0
	SpeedMbps  float64 `json:"speed_mbps"`
	LatencyMs  float64 `json:"latency_ms"`
	PacketLoss float64 `json:"packet_loss"` // 0.0-1.0
}

// EventType identifies a pushed network event.
type EventType string

const (
	EventOffline       EventType = "offline"
	EventOnline        EventType = "online"
	EventQualityChange EventType = "quality_change"
)

// Event is a pushed network state change. Handlers must be idempotent;
// the monitor may redeliver state.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Status    NetworkStatus `json:"status"`
}

// EventHandler receives pushed network events.
type EventHandler func(Event)

// NetworkMonitor is the connectivity collaborator.
type NetworkMonitor interface {
	Status(ctx context.Context) (*NetworkStatus, error)
	Quality(ctx context.Context) (float64, error)
	// IssuePredictions forecasts connection issues within the horizon.
	IssuePredictions(ctx context.Context, horizon time.Duration) ([]model.OfflineWindow, error)
	// PredictedOfflinePeriods returns the monitor's standing offline forecast.
	PredictedOfflinePeriods(ctx context.Context) ([]model.OfflineWindow, error)
	// Subscribe registers a push handler and returns an unsubscribe func.
	Subscribe(handler EventHandler) func()
}

// StorageLevel classifies storage pressure events.
type StorageLevel string

const (
	StorageLow      StorageLevel = "low"
	StorageCritical StorageLevel = "critical"
)

// StorageInfo reports disk quota usage.
type StorageInfo struct {
	UsedBytes      int64   `json:"used_bytes"`
	QuotaBytes     int64   `json:"quota_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// StorageManager is the optional disk quota/compression collaborator.
type StorageManager interface {
	Initialize(ctx context.Context) error
	SaveData(ctx context.Context, key string, data []byte, compress bool) error
	// LoadData returns the stored bytes and whether the key existed.
	LoadData(ctx context.Context, key string) ([]byte, bool, error)
	Info(ctx context.Context) (*StorageInfo, error)
	// Optimize reclaims space, returning the number of bytes freed.
	Optimize(ctx context.Context) (int64, error)
	AddListener(fn func(StorageLevel))
}

// RiskForecast is a near-term offline-risk estimate from a forecaster.
type RiskForecast struct {
	Risk       float64   `json:"risk"` // 0.0-1.0
	Hour       int       `json:"hour"`
	Confidence float64   `json:"confidence"`
	ValidUntil time.Time `json:"valid_until"`
}

// ForecasterStatus describes the ML adapter's readiness.
type ForecasterStatus struct {
	Initialized bool      `json:"initialized"`
	LastTrained time.Time `json:"last_trained,omitempty"`
	ModelName   string    `json:"model_name,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// TrainingStats is the aggregate handed to the forecaster for a
// training pass.
type TrainingStats struct {
	SampleCount      int         `json:"sample_count"`
	OfflineTimeOfDay [24]int     `json:"offline_time_of_day"`
	WeeklyOffline    [7]int      `json:"weekly_offline"`
	HourlyUsage      [24]float64 `json:"hourly_usage"`
	OfflineFrequency float64     `json:"offline_frequency"`
}

// ForecastContext is the live context handed to the forecaster when
// asking for content predictions.
type ForecastContext struct {
	Hour         int     `json:"hour"`
	DayOfWeek    int     `json:"day_of_week"`
	LanguagePair string  `json:"language_pair,omitempty"`
	Context      string  `json:"context,omitempty"`
	Quality      float64 `json:"quality"`
	LocationName string  `json:"location_name,omitempty"`
}

// Forecaster is the optional pluggable ML adapter. Implementations must
// degrade to empty/zero results on internal failure; the engine treats
// every error as "no forecast" and stays rule-based.
type Forecaster interface {
	Initialize(ctx context.Context) error
	Train(ctx context.Context, stats TrainingStats) error
	Predictions(ctx context.Context, fc ForecastContext) ([]model.Prediction, error)
	OfflineRisk(ctx context.Context) (RiskForecast, error)
	Status() ForecasterStatus
}
