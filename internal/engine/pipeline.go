// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/aggregate"
	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/feedback"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/predict"
	"github.com/medtranslate/edgecache/internal/prepare"
	"github.com/medtranslate/edgecache/internal/strategy"
)

// Refresh rebuilds the model from the usage log, publishes the live
// tracker state into it, and persists the result. With too few samples
// the previous model stays in place.
func (e *Engine) Refresh(ctx context.Context) error {
	entries := e.store.UsageLog()
	prior := e.store.Model()
	now := e.clock.Now()

	rebuilt, err := e.aggregator.Rebuild(entries, prior, now)
	if err != nil {
		if errors.Is(err, aggregate.ErrInsufficientData) {
			log.Debugf("Engine: refresh skipped, %d samples", len(entries))
			return nil
		}
		return fmt.Errorf("engine: rebuild: %w", err)
	}

	e.mu.Lock()
	e.network.Publish(rebuilt)
	e.location.Publish(rebuilt)
	e.device.Publish(rebuilt)
	e.store.SetModel(rebuilt)
	e.mu.Unlock()

	if err := e.store.Save(); err != nil {
		log.Warnf("Engine: model save failed, continuing in memory: %v", err)
	}

	log.Infof("Engine: model rebuilt from %d samples (%d pairs)",
		rebuilt.SampleCount, len(rebuilt.LanguagePairs))
	return nil
}

// OfflineRisk estimates the current offline risk.
func (e *Engine) OfflineRisk(ctx context.Context) float64 {
	m := e.store.Model()
	score := e.estimator.Estimate(ctx, m, e.clock.Now())

	e.mu.Lock()
	e.lastRisk = score
	e.mu.Unlock()
	return score
}

// Aggressiveness computes the current caching aggressiveness from live
// conditions.
func (e *Engine) Aggressiveness(ctx context.Context) strategy.Result {
	m := e.store.Model()
	now := e.clock.Now()

	var forecast *collab.RiskForecast
	if e.forecaster.Status().Initialized {
		if rf, err := e.forecaster.OfflineRisk(ctx); err == nil && rf.Confidence > 0 {
			forecast = &rf
		}
	}

	locRatio := -1.0
	if key := e.location.CurrentKey(); key != "" {
		locRatio = e.location.OfflineRatioAt(key)
	}

	res := strategy.Compute(strategy.Inputs{
		Base:                 e.cfg.Engine.BaseAggressiveness,
		Now:                  now,
		Device:               e.device.Snapshot(),
		Network:              e.network.Status(),
		StorageHeadroom:      e.disk.HeadroomFraction(),
		IdleDuration:         e.device.IdleDuration(),
		LocationOfflineRatio: locRatio,
		Forecast:             forecast,
		Model:                m,
	})

	e.mu.Lock()
	e.lastAggr = res.Value
	e.mu.Unlock()
	return res
}

// Predictions runs the full prediction pipeline: strategies, steering,
// ranking. offlineOnly keeps only offline-relevant output.
func (e *Engine) Predictions(ctx context.Context, limit int, offlineOnly bool) []model.Prediction {
	m := e.store.Model()
	if m == nil {
		return nil
	}
	now := e.clock.Now()
	riskScore := e.OfflineRisk(ctx)
	aggr := e.Aggressiveness(ctx)

	if limit <= 0 {
		limit = e.cfg.Engine.PredictionLimit
	}

	session := e.Session()
	opts := predict.Options{
		Limit:          limit,
		Aggressiveness: aggr.Value,
		BaseThreshold:  e.cfg.Engine.ScoreThreshold,
		OfflineRisk:    riskScore,
		Now:            now,
		ActivePair:     session.LanguagePair,
		ActiveContext:  session.Context,
		RecentContexts: session.RecentContexts,
		RecentTerms:    e.recentTerms(),
		OfflineOnly:    offlineOnly,
	}

	preds := e.predictor.Predict(ctx, m, opts)
	preds = e.steerer.Apply(preds, now, riskScore, e.device.Snapshot().BatteryLevel)

	// ML content predictions join after steering; they carry their own
	// confidence weighting.
	if e.forecaster.Status().Initialized && session.LanguagePair != "" {
		mlPreds, err := e.forecaster.Predictions(ctx, collab.ForecastContext{
			Hour:         now.Hour(),
			DayOfWeek:    int(now.Weekday()),
			LanguagePair: session.LanguagePair,
			Context:      session.Context,
			Quality:      e.network.Status().Quality,
		})
		if err == nil {
			preds = append(preds, mlPreds...)
		}
	}
	return preds
}

// recentTerms collects terms from the tail of the usage log belonging
// to the live session.
func (e *Engine) recentTerms() []string {
	session := e.Session()
	if session.SessionID == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	entries := e.store.UsageLog()
	for i := len(entries) - 1; i >= 0 && len(out) < 10; i-- {
		if entries[i].SessionID != session.SessionID {
			break
		}
		for _, term := range entries[i].Terms {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}

// Prepare runs one preparation pass end to end and records per-item
// outcomes. Concurrent calls collapse into one.
func (e *Engine) Prepare(ctx context.Context, trigger string) (*prepare.Summary, error) {
	e.mu.Lock()
	if e.preparing {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine: preparation already running")
	}
	e.preparing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.preparing = false
		e.mu.Unlock()
	}()

	m := e.store.Model()
	if m == nil || m.SampleCount == 0 {
		return &prepare.Summary{Status: prepare.StatusNothingToDo}, nil
	}

	riskScore := e.OfflineRisk(ctx)
	aggr := e.Aggressiveness(ctx)
	limit := e.cfg.Engine.PredictionLimit

	// Only offline-relevant predictions compete for the pre-fetch
	// budget, which aggressiveness scales before the capacity cap.
	preds := e.Predictions(ctx, limit, true)
	maxItems := int(float64(limit) * aggr.Value)
	log.Infof("Engine: preparation triggered by %s (risk %.2f, aggressiveness %.2f, %d predictions)",
		trigger, riskScore, aggr.Value, len(preds))

	summary, err := e.orchestrator.Run(ctx, m, preds, e.network.Status(), riskScore, maxItems)
	if err != nil {
		return nil, err
	}

	e.recordOutcomes(ctx, preds, summary)

	e.mu.Lock()
	e.lastSummary = summary
	e.mu.Unlock()
	return summary, nil
}

func (e *Engine) recordOutcomes(ctx context.Context, preds []model.Prediction, summary *prepare.Summary) {
	if !e.recorder.IsEnabled() {
		return
	}
	scores := make(map[string]float64, len(preds))
	reasons := make(map[string]string, len(preds))
	for _, p := range preds {
		key := p.PairKeyOf() + "|" + p.Context
		scores[key] = p.Score
		reasons[key] = string(p.Reason)
	}

	for _, r := range summary.Results {
		key := r.Pair + "|" + r.Context
		outcome := &feedback.Outcome{
			CacheKey:     r.CacheKey,
			Pair:         r.Pair,
			Context:      r.Context,
			Tier:         string(r.Tier),
			Reason:       reasons[key],
			Score:        scores[key],
			Cached:       r.Status == "cached" || r.Status == "already_cached",
			LatencyMs:    r.ElapsedMs,
			ErrorMessage: r.Error,
		}
		if err := e.recorder.Record(ctx, outcome); err != nil {
			log.Debugf("Engine: record outcome: %v", err)
			return
		}
	}
}

// prepareAsync fires a preparation pass in the background; overlapping
// triggers are dropped by Prepare itself.
func (e *Engine) prepareAsync(trigger string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := e.Prepare(ctx, trigger); err != nil {
			log.Debugf("Engine: background preparation (%s): %v", trigger, err)
		}
	}()
}
