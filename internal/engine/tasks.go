// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
)

// prepareRiskThreshold triggers a background preparation pass when the
// estimated risk crosses it outside the regular schedule.
const prepareRiskThreshold = 0.6

// refreshTask rebuilds the model, retrains the forecaster, and runs a
// scheduled preparation pass when conditions warrant one.
func (e *Engine) refreshTask(ctx context.Context) error {
	if err := e.Refresh(ctx); err != nil {
		return err
	}
	e.trainForecaster(ctx)

	riskScore := e.OfflineRisk(ctx)
	if e.network.Online() && riskScore > prepareRiskThreshold {
		e.prepareAsync("scheduled-high-risk")
	}
	return nil
}

func (e *Engine) trainForecaster(ctx context.Context) {
	if !e.cfg.ML.Enabled {
		return
	}
	m := e.store.Model()
	if m == nil || m.SampleCount == 0 {
		return
	}
	stats := collab.TrainingStats{
		SampleCount:      m.SampleCount,
		OfflineTimeOfDay: m.Network.OfflineTimeOfDay,
		WeeklyOffline:    m.Network.WeeklyOffline,
		HourlyUsage:      m.Time.HourlyUsage,
		OfflineFrequency: m.Network.OfflineFrequency,
	}
	if err := e.forecaster.Train(ctx, stats); err != nil {
		log.Debugf("Engine: forecaster training: %v", err)
	}
}

// syncTask pulls terminology updates, captures the network monitor's
// standing offline forecast, and persists current state.
func (e *Engine) syncTask(ctx context.Context) error {
	if e.syncer != nil && e.network.Online() {
		if _, err := e.syncer.Sync(ctx); err != nil {
			log.Warnf("Engine: terminology sync: %v", err)
		}
	}
	e.captureOfflineForecast(ctx)
	return e.store.Save()
}

// captureOfflineForecast copies the monitor's forecast windows into the
// model so the risk estimator sees them. The monitor is the single
// writer; an empty forecast clears stale windows.
func (e *Engine) captureOfflineForecast(ctx context.Context) {
	windows, err := e.monitor.PredictedOfflinePeriods(ctx)
	if err != nil {
		log.Debugf("Engine: offline forecast unavailable: %v", err)
		return
	}
	for i := range windows {
		if windows[i].Source == "" {
			windows[i].Source = "monitor"
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.store.Model(); m != nil {
		m.Network.ForecastedOffline = windows
	}
}

// deviceSampleTask polls the battery, storage, and location signals.
func (e *Engine) deviceSampleTask(ctx context.Context) error {
	e.device.Sample(ctx)
	e.disk.Sample(ctx)
	e.location.Sample(ctx, e.network.Online())
	return nil
}

// sessionSampleTask retires idle sessions.
func (e *Engine) sessionSampleTask(ctx context.Context) error {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.SessionID != "" && e.session.Expired(now) {
		log.Debugf("Engine: session %s expired after %d items",
			e.session.SessionID, e.session.ItemCount)
		offline := e.session.Offline
		e.session = modelSessionReset(offline)
	}
	return nil
}
