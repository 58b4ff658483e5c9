// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"testing"
	"time"

	"github.com/medtranslate/edgecache/internal/config"
	"github.com/medtranslate/edgecache/internal/model"
)

var testNow = time.Date(2026, 3, 16, 22, 0, 0, 0, time.UTC) // Monday 22:00

func samplePreds() []model.Prediction {
	return []model.Prediction{
		{SourceLanguage: "es", TargetLanguage: "en", Context: "emergency", Score: 0.5, Reason: model.ReasonTimePattern},
		{SourceLanguage: "ar", TargetLanguage: "en", Context: "general", Score: 0.4, Reason: model.ReasonHighScore},
	}
}

func TestApplyBoost(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name:      "night-emergency",
		Condition: `context == "emergency" && hour >= 20`,
		Action:    config.SteeringBoost,
		Factor:    2.0,
	}})

	out := e.Apply(samplePreds(), testNow, 0.2, 0.9)
	if out[0].Score != 1.0 {
		t.Errorf("boosted score = %v, want 1.0", out[0].Score)
	}
	if out[0].Reason != model.ReasonSteering {
		t.Errorf("boosted reason = %s, want steering", out[0].Reason)
	}
	// The non-matching prediction is untouched.
	if out[1].Score != 0.4 || out[1].Reason != model.ReasonHighScore {
		t.Errorf("unmatched prediction changed: %+v", out[1])
	}
}

func TestApplySuppress(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name:      "downweight-general",
		Condition: `context == "general"`,
		Action:    config.SteeringSuppress,
		Factor:    2.0,
	}})

	out := e.Apply(samplePreds(), testNow, 0.2, 0.9)
	if out[1].Score != 0.2 {
		t.Errorf("suppressed score = %v, want 0.2", out[1].Score)
	}
	// Suppress keeps the original reason.
	if out[1].Reason != model.ReasonHighScore {
		t.Errorf("suppressed reason = %s", out[1].Reason)
	}
}

func TestApplyPin(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name:      "always-emergency",
		Condition: `context == "emergency"`,
		Action:    config.SteeringPin,
		Factor:    1.0,
	}})

	out := e.Apply(samplePreds(), testNow, 0.2, 0.9)
	if out[0].Score != 10.0 {
		t.Errorf("pinned score = %v, want 10.0", out[0].Score)
	}
	if !out[0].OfflineRelevant {
		t.Error("pinned prediction not marked offline relevant")
	}
}

func TestApplyRiskAndBatteryConditions(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name:      "risky-battery-ok",
		Condition: `offline_risk > 0.5 && battery_level > 0.3`,
		Action:    config.SteeringBoost,
		Factor:    3.0,
	}})

	out := e.Apply(samplePreds(), testNow, 0.7, 0.8)
	if out[0].Score != 1.5 {
		t.Errorf("score under high risk = %v, want 1.5", out[0].Score)
	}

	out = e.Apply(samplePreds(), testNow, 0.2, 0.8)
	if out[0].Score != 0.5 {
		t.Errorf("score under low risk = %v, want untouched 0.5", out[0].Score)
	}
}

func TestEmptyConditionAlwaysMatches(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name:   "blanket",
		Action: config.SteeringBoost,
		Factor: 2.0,
	}})
	out := e.Apply(samplePreds(), testNow, 0, 0)
	if out[0].Score != 1.0 || out[1].Score != 0.8 {
		t.Errorf("blanket rule scores = %v, %v", out[0].Score, out[1].Score)
	}
}

func TestInvalidConditionDropped(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{
		{Name: "broken", Condition: `context ==`, Action: config.SteeringBoost, Factor: 2.0},
		{Name: "good", Condition: `score > 0.45`, Action: config.SteeringBoost, Factor: 2.0},
	})

	out := e.Apply(samplePreds(), testNow, 0, 0)
	// Only the compilable rule runs: 0.5 -> 1.0; 0.4 stays.
	if out[0].Score != 1.0 {
		t.Errorf("good rule did not run: %v", out[0].Score)
	}
	if out[1].Score != 0.4 {
		t.Errorf("broken rule affected output: %v", out[1].Score)
	}
}

func TestSetRulesReplacesSet(t *testing.T) {
	e := NewEvaluator([]config.SteeringRule{{
		Name: "old", Condition: `context == "emergency"`, Action: config.SteeringBoost, Factor: 2.0,
	}})
	e.SetRules(nil)

	out := e.Apply(samplePreds(), testNow, 0, 0)
	if out[0].Score != 0.5 {
		t.Errorf("stale rules still applied: %v", out[0].Score)
	}
}
