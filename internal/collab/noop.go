// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collab

import (
	"context"
	"time"

	"github.com/medtranslate/edgecache/internal/model"
)

// NoopCache is the substitute used when no cache collaborator is
// wired. It reports a generous empty cache so preparation logic keeps
// working; writes are discarded.
type NoopCache struct{}

func (NoopCache) Stats(context.Context) (*CacheStats, error) {
	return &CacheStats{LimitBytes: 64 << 20, AvailableItems: 1000}, nil
}
func (NoopCache) Items(context.Context, string) ([]CacheItem, error)     { return nil, nil }
func (NoopCache) SetPriority(context.Context, string, string, bool) error { return nil }
func (NoopCache) Optimize(context.Context, OptimizeOptions) error         { return nil }
func (NoopCache) HasItem(context.Context, string) bool                    { return false }

// NoopMonitor assumes a healthy online connection and never pushes
// events.
type NoopMonitor struct{}

func (NoopMonitor) Status(context.Context) (*NetworkStatus, error) {
	return &NetworkStatus{Online: true, Quality: 1.0}, nil
}
func (NoopMonitor) Quality(context.Context) (float64, error) { return 1.0, nil }
func (NoopMonitor) IssuePredictions(context.Context, time.Duration) ([]model.OfflineWindow, error) {
	return nil, nil
}
func (NoopMonitor) PredictedOfflinePeriods(context.Context) ([]model.OfflineWindow, error) {
	return nil, nil
}
func (NoopMonitor) Subscribe(EventHandler) func() { return func() {} }

// NoopStorage reports unlimited space and drops writes.
type NoopStorage struct{}

func (NoopStorage) Initialize(context.Context) error                       { return nil }
func (NoopStorage) SaveData(context.Context, string, []byte, bool) error   { return nil }
func (NoopStorage) LoadData(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoopStorage) Info(context.Context) (*StorageInfo, error) {
	return &StorageInfo{QuotaBytes: 1 << 30, AvailableBytes: 1 << 30}, nil
}
func (NoopStorage) Optimize(context.Context) (int64, error) { return 0, nil }
func (NoopStorage) AddListener(func(StorageLevel))          {}

// NoopForecaster reports itself uninitialized; the risk estimator then
// takes the rule-based path.
type NoopForecaster struct{}

func (NoopForecaster) Initialize(context.Context) error              { return nil }
func (NoopForecaster) Train(context.Context, TrainingStats) error    { return nil }
func (NoopForecaster) Predictions(context.Context, ForecastContext) ([]model.Prediction, error) {
	return nil, nil
}
func (NoopForecaster) OfflineRisk(context.Context) (RiskForecast, error) {
	return RiskForecast{}, nil
}
func (NoopForecaster) Status() ForecasterStatus { return ForecasterStatus{} }
