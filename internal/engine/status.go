// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"time"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/prepare"
	"github.com/medtranslate/edgecache/internal/store"
)

// Status is the engine's externally visible state.
type Status struct {
	Initialized bool      `json:"initialized"`
	Now         time.Time `json:"now"`

	LogEntries   int       `json:"log_entries"`
	SampleCount  int       `json:"sample_count"`
	ModelUpdated time.Time `json:"model_updated,omitempty"`

	Online         bool    `json:"online"`
	OfflineRisk    float64 `json:"offline_risk"`
	Aggressiveness float64 `json:"aggressiveness"`

	Session model.SessionState `json:"session"`

	Store      store.Health            `json:"store"`
	Forecaster collab.ForecasterStatus `json:"forecaster"`
	Network    collab.NetworkStatus    `json:"network"`

	LastPreparation *prepare.Summary `json:"last_preparation,omitempty"`
}

// Status snapshots the engine. It recomputes risk and aggressiveness so
// the report reflects current conditions, not a stale cache.
func (e *Engine) Status(ctx context.Context) Status {
	riskScore := e.OfflineRisk(ctx)
	aggr := e.Aggressiveness(ctx)

	m := e.store.Model()
	st := Status{
		Now:            e.clock.Now(),
		LogEntries:     e.store.Len(),
		SampleCount:    sampleCount(m),
		Online:         e.network.Online(),
		OfflineRisk:    riskScore,
		Aggressiveness: aggr.Value,
		Session:        e.Session(),
		Store:          e.store.Health(),
		Forecaster:     e.forecaster.Status(),
		Network:        e.network.Status(),
	}
	if m != nil {
		st.ModelUpdated = m.UpdatedAt
	}

	e.mu.Lock()
	st.Initialized = e.initialized
	st.LastPreparation = e.lastSummary
	e.mu.Unlock()
	return st
}

// Model returns the current learned model snapshot, which may be nil
// before the first rebuild.
func (e *Engine) Model() *model.PredictionModel {
	return e.store.Model()
}

// FeedbackStats returns prediction accuracy aggregates.
func (e *Engine) FeedbackStats(ctx context.Context) (map[string]any, error) {
	return e.recorder.GetStats(ctx)
}
