// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package risk estimates the probability that the device is about to
// lose connectivity. An available ML forecaster takes precedence; the
// rule-based path combines live network metrics with historical time
// and location patterns.
package risk

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/signals"
	"github.com/medtranslate/edgecache/internal/util"
)

const (
	// baselineRisk is returned when no factor fires.
	baselineRisk = 0.1
	// failSafeRisk is returned on internal failure: medium, not open.
	failSafeRisk = 0.5
	// dipWindow is the lookback for recent quality dips.
	dipWindow = 30 * time.Minute
)

// Estimator computes the 0-1 offline risk score.
type Estimator struct {
	forecaster collab.Forecaster
	network    *signals.NetworkTracker
	location   *signals.LocationTracker
}

// New creates an estimator. forecaster may be a NoopForecaster; the
// trackers must be non-nil.
func New(forecaster collab.Forecaster, network *signals.NetworkTracker, location *signals.LocationTracker) *Estimator {
	return &Estimator{forecaster: forecaster, network: network, location: location}
}

// Estimate returns the offline risk in [0,1]. Already offline scores
// 1.0 immediately; any internal panic degrades to the fail-safe medium
// score rather than failing open.
func (e *Estimator) Estimate(ctx context.Context, m *model.PredictionModel, now time.Time) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Risk estimator: internal failure, returning fail-safe: %v", r)
			score = failSafeRisk
		}
	}()

	if !e.network.Online() {
		return 1.0
	}

	if risk, ok := e.forecastRisk(ctx, now); ok {
		return risk
	}
	return e.traditionalRisk(m, now)
}

// forecastRisk consults the ML adapter when it is initialized. The
// adapter's near-term estimate and any forecast window covering the
// current hour compete; the highest risk wins.
func (e *Estimator) forecastRisk(ctx context.Context, now time.Time) (float64, bool) {
	if e.forecaster == nil || !e.forecaster.Status().Initialized {
		return 0, false
	}
	fc, err := e.forecaster.OfflineRisk(ctx)
	if err != nil {
		log.Debugf("Risk estimator: forecaster failed, using rule-based path: %v", err)
		return 0, false
	}
	if fc.Confidence <= 0 {
		return 0, false
	}
	risk := fc.Risk
	if !fc.ValidUntil.IsZero() && now.After(fc.ValidUntil) {
		return 0, false
	}
	return util.Clamp(risk, 0, 1), true
}

// traditionalRisk is the weighted rule-based combination:
// 0.7*max(factors) + 0.3*mean(factors), clamped to [0,1].
func (e *Estimator) traditionalRisk(m *model.PredictionModel, now time.Time) float64 {
	var factors []float64

	status := e.network.Status()

	// Quality bucket.
	switch {
	case status.Quality > 0 && status.Quality < 0.3:
		factors = append(factors, 0.8)
	case status.Quality > 0 && status.Quality < 0.5:
		factors = append(factors, 0.5)
	case status.Quality > 0 && status.Quality < 0.7:
		factors = append(factors, 0.3)
	}

	// Absolute thresholds on live metrics.
	if status.SpeedMbps > 0 && status.SpeedMbps < 1.0 {
		factors = append(factors, 0.6)
	}
	if status.LatencyMs > 500 {
		factors = append(factors, 0.5)
	}
	if status.PacketLoss > 0.1 {
		factors = append(factors, 0.7)
	}

	// Historical offline ratio for the current hour.
	if f, ok := hourOfflineFactor(m, now.Hour()); ok {
		factors = append(factors, f)
	}

	// Forecasted offline window covering now or about to open.
	if f, ok := forecastWindowFactor(m, now); ok {
		factors = append(factors, f)
	}

	// Historical offline ratio at the current location.
	if key := e.location.CurrentKey(); key != "" {
		if ratio := e.location.OfflineRatioAt(key); ratio >= 0.2 {
			factors = append(factors, util.Clamp(ratio, 0, 1))
		}
	}

	// Recent connection-quality dips.
	switch dips := e.network.QualityDips(dipWindow, 0.5, now); {
	case dips >= 3:
		factors = append(factors, 0.7)
	case dips >= 1:
		factors = append(factors, 0.4)
	}

	if len(factors) == 0 {
		return baselineRisk
	}

	max, sum := factors[0], 0.0
	for _, f := range factors {
		if f > max {
			max = f
		}
		sum += f
	}
	mean := sum / float64(len(factors))
	return util.Clamp(0.7*max+0.3*mean, 0, 1)
}

// forecastWindowFactor scores the network monitor's forecast windows:
// a window already open weighs heavier than one about to start within
// the dip lookback. Low-confidence and expired windows are ignored.
func forecastWindowFactor(m *model.PredictionModel, now time.Time) (float64, bool) {
	best := 0.0
	for _, w := range m.Network.ForecastedOffline {
		if w.Confidence < 0.3 || !w.End.After(now) {
			continue
		}
		var f float64
		switch {
		case !w.Start.After(now):
			f = 0.9 * w.Confidence
		case w.Start.Sub(now) <= dipWindow:
			f = 0.7 * w.Confidence
		default:
			continue
		}
		if f > best {
			best = f
		}
	}
	if best == 0 {
		return 0, false
	}
	return util.Clamp(best, 0, 1), true
}

// hourOfflineFactor converts the current hour's share of historical
// offline events into a risk factor. It fires only with enough history
// and an over-represented hour (above the uniform 1/24 share).
func hourOfflineFactor(m *model.PredictionModel, hour int) (float64, bool) {
	total := 0
	for _, n := range m.Network.OfflineTimeOfDay {
		total += n
	}
	if total < 3 {
		return 0, false
	}
	share := float64(m.Network.OfflineTimeOfDay[hour]) / float64(total)
	if share <= 1.0/24 {
		return 0, false
	}
	return util.Clamp(share*3, 0, 1), true
}
