// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering applies operator-defined rules to the prediction
// list. Rules are expression conditions over the prediction and the
// current conditions, with a boost, suppress, or pin action. A clinic
// can pin the emergency context during on-call hours without touching
// the learned model.
package steering

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/config"
	"github.com/medtranslate/edgecache/internal/model"
)

// RuleContext is the expression environment a condition evaluates
// against.
type RuleContext struct {
	SourceLanguage string  `expr:"source_language"`
	TargetLanguage string  `expr:"target_language"`
	Context        string  `expr:"context"`
	Score          float64 `expr:"score"`
	Reason         string  `expr:"reason"`
	Hour           int     `expr:"hour"`
	Weekday        int     `expr:"weekday"`
	OfflineRisk    float64 `expr:"offline_risk"`
	BatteryLevel   float64 `expr:"battery_level"`
}

// Evaluator compiles and applies steering rules.
type Evaluator struct {
	mu       sync.RWMutex
	rules    []config.SteeringRule
	programs map[string]*vm.Program
}

// NewEvaluator creates an evaluator for the given rules. Rules whose
// condition fails to compile are dropped with a warning.
func NewEvaluator(rules []config.SteeringRule) *Evaluator {
	e := &Evaluator{programs: make(map[string]*vm.Program)}
	e.SetRules(rules)
	return e
}

// SetRules replaces the rule set, recompiling conditions. Used on
// config reload.
func (e *Evaluator) SetRules(rules []config.SteeringRule) {
	programs := make(map[string]*vm.Program)
	kept := make([]config.SteeringRule, 0, len(rules))
	for _, r := range rules {
		if r.Condition != "" && r.Condition != "true" {
			p, err := expr.Compile(r.Condition, expr.Env(RuleContext{}))
			if err != nil {
				log.Warnf("Steering: rule %q has invalid condition, skipping: %v", r.Name, err)
				continue
			}
			programs[r.Condition] = p
		}
		kept = append(kept, r)
	}

	e.mu.Lock()
	e.rules = kept
	e.programs = programs
	e.mu.Unlock()
	log.Infof("Steering: %d rules active", len(kept))
}

// Apply runs every rule over every prediction. Boost and suppress scale
// the score by the rule's factor; pin forces the score above everything
// unsteered. The input slice is modified in place and returned.
func (e *Evaluator) Apply(preds []model.Prediction, now time.Time, offlineRisk, batteryLevel float64) []model.Prediction {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return preds
	}

	for i := range preds {
		rc := RuleContext{
			SourceLanguage: preds[i].SourceLanguage,
			TargetLanguage: preds[i].TargetLanguage,
			Context:        preds[i].Context,
			Score:          preds[i].Score,
			Reason:         string(preds[i].Reason),
			Hour:           now.Hour(),
			Weekday:        int(now.Weekday()),
			OfflineRisk:    offlineRisk,
			BatteryLevel:   batteryLevel,
		}
		for _, r := range rules {
			matched, err := e.evaluate(r.Condition, rc)
			if err != nil {
				log.Debugf("Steering: rule %q: %v", r.Name, err)
				continue
			}
			if !matched {
				continue
			}
			switch r.Action {
			case config.SteeringBoost:
				preds[i].Score *= r.Factor
				preds[i].Reason = model.ReasonSteering
			case config.SteeringSuppress:
				preds[i].Score /= r.Factor
			case config.SteeringPin:
				preds[i].Score = 10.0
				preds[i].Reason = model.ReasonSteering
				preds[i].OfflineRelevant = true
			}
		}
	}
	return preds
}

func (e *Evaluator) evaluate(condition string, rc RuleContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	e.mu.RLock()
	program, ok := e.programs[condition]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("condition %q not compiled", condition)
	}

	output, err := expr.Run(program, rc)
	if err != nil {
		return false, fmt.Errorf("failed to run condition %q: %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean", condition)
	}
	return result, nil
}
