// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package model

// Reason identifies which strategy produced a prediction.
type Reason string

const (
	ReasonTimePattern       Reason = "time_pattern"
	ReasonContextAffinity   Reason = "context_affinity"
	ReasonContextSequence   Reason = "context_sequence"
	ReasonPairSequence      Reason = "pair_sequence"
	ReasonContextTransition Reason = "context_transition"
	ReasonSessionSequence   Reason = "session_sequence"
	ReasonTermAffinity      Reason = "term_affinity"
	ReasonOfflineRisk       Reason = "offline_risk"
	ReasonLocation          Reason = "location"
	ReasonDeviceState       Reason = "device_state"
	ReasonComplexity        Reason = "complexity"
	ReasonHighScore         Reason = "high_score"
	ReasonSteering          Reason = "steering"
	ReasonMLForecast        Reason = "ml_forecast"
)

// Prediction is a scored forecast that a (language pair, context) will
// be needed soon. Core fields are fixed; strategy-specific detail goes
// into Meta so strategies stay uniform at the merge step.
type Prediction struct {
	SourceLanguage  string         `json:"source_language"`
	TargetLanguage  string         `json:"target_language"`
	Context         string         `json:"context"`
	Score           float64        `json:"score"`
	Reason          Reason         `json:"reason"`
	OfflineRelevant bool           `json:"offline_relevant"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Key is the deduplication key: two predictions for the same pair and
// context collapse into the higher-scored one.
func (p Prediction) Key() string {
	return p.SourceLanguage + "|" + p.TargetLanguage + "|" + p.Context
}

// PairKeyOf returns the canonical pair key for this prediction.
func (p Prediction) PairKeyOf() string {
	return PairKey(p.SourceLanguage, p.TargetLanguage)
}
