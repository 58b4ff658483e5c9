// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package predict generates ranked (language pair, context) predictions
// from the learned model. Strategies run independently and their output
// is concatenated, deduplicated keeping the highest score, optionally
// boosted for offline relevance, then sorted and truncated.
package predict

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/model"
)

// Fixed multipliers expressing relative confidence in each
// context-derived signal.
const (
	altContextMultiplier      = 1.2
	contextSequenceMultiplier = 1.3
	pairSequenceMultiplier    = 1.1
	transitionMultiplier      = 1.4
)

// maxLimit caps the risk-expanded prediction limit.
const maxLimit = 50

// Options carries the per-call prediction inputs.
type Options struct {
	// Limit is the maximum number of predictions returned; grows by
	// 1.5x (capped) when offline risk is high.
	Limit int
	// Aggressiveness scales the acceptance threshold down:
	// threshold = BaseThreshold * (1 - Aggressiveness).
	Aggressiveness float64
	// BaseThreshold is the base evidence threshold.
	BaseThreshold float64
	// OfflineRisk is the measured offline risk for ranking boosts.
	OfflineRisk float64
	// Now anchors all time-of-day lookups.
	Now time.Time

	// ActivePair and ActiveContext describe the current session.
	ActivePair    string
	ActiveContext string
	// RecentContexts are the session's contexts, newest last.
	RecentContexts []string
	// RecentTerms are terms seen recently in this session.
	RecentTerms []string

	// OfflineOnly keeps only offline-relevant predictions.
	OfflineOnly bool
}

func (o *Options) threshold() float64 {
	t := o.BaseThreshold * (1 - o.Aggressiveness)
	if t < 0.01 {
		t = 0.01
	}
	return t
}

// StrategyFunc is a pluggable prediction source; location and
// device-state strategies are provided externally and degrade to an
// empty list when absent.
type StrategyFunc func(ctx context.Context, m *model.PredictionModel, opts Options) []model.Prediction

// Engine runs the prediction strategies.
type Engine struct {
	// LocationStrategy and DeviceStrategy are optional external hooks.
	LocationStrategy StrategyFunc
	DeviceStrategy   StrategyFunc
}

// New creates a prediction engine with no external hooks wired.
func New() *Engine {
	return &Engine{}
}

// Predict runs every strategy and returns the merged, ranked result.
func (e *Engine) Predict(ctx context.Context, m *model.PredictionModel, opts Options) []model.Prediction {
	if m == nil || m.SampleCount == 0 {
		return nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.BaseThreshold <= 0 {
		opts.BaseThreshold = 0.2
	}

	var all []model.Prediction
	all = append(all, e.timeBased(m, opts)...)
	all = append(all, e.contextBased(m, opts)...)
	all = append(all, e.sessionBased(m, opts)...)
	all = append(all, e.termBased(m, opts)...)
	all = append(all, e.networkBased(m, opts)...)
	all = append(all, e.external(ctx, e.LocationStrategy, m, opts)...)
	all = append(all, e.external(ctx, e.DeviceStrategy, m, opts)...)
	all = append(all, e.complexityBased(m, opts)...)
	all = append(all, e.highScore(m, opts)...)

	merged := dedupe(all)

	if opts.OfflineOnly {
		filtered := merged[:0]
		for _, p := range merged {
			if p.OfflineRelevant {
				filtered = append(filtered, p)
			}
		}
		merged = filtered
	}

	// Offline-relevant predictions rank ahead when risk is elevated.
	if opts.OfflineRisk > 0.3 {
		for i := range merged {
			if merged[i].OfflineRelevant {
				merged[i].Score *= 1.25
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	limit := opts.Limit
	if opts.OfflineRisk > 0.5 {
		limit = int(float64(limit) * 1.5)
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// dedupe collapses predictions sharing (source, target, context). The
// highest-scoring entry wins, its reason included; offline relevance
// sticks if any collapsed entry carried it.
func dedupe(preds []model.Prediction) []model.Prediction {
	seen := make(map[string]int, len(preds))
	out := make([]model.Prediction, 0, len(preds))
	for _, p := range preds {
		key := p.Key()
		if idx, ok := seen[key]; ok {
			if p.Score > out[idx].Score {
				keepRelevant := out[idx].OfflineRelevant || p.OfflineRelevant
				out[idx] = p
				out[idx].OfflineRelevant = keepRelevant
			} else if p.OfflineRelevant {
				out[idx].OfflineRelevant = true
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	return out
}

// timeBased emits pairs over-represented in the current hour and day
// histograms.
func (e *Engine) timeBased(m *model.PredictionModel, opts Options) []model.Prediction {
	threshold := opts.threshold()
	hour := opts.Now.Hour()
	day := int(opts.Now.Weekday())

	var out []model.Prediction
	emit := func(pair string, share float64) {
		src, tgt, err := model.SplitPairKey(pair)
		if err != nil {
			return
		}
		out = append(out, model.Prediction{
			SourceLanguage: src,
			TargetLanguage: tgt,
			Context:        topContextFor(m, pair),
			Score:          share,
			Reason:         model.ReasonTimePattern,
		})
	}
	for pair, share := range m.Time.PairsByHour[hour] {
		if share > threshold {
			emit(pair, share)
		}
	}
	for pair, share := range m.Time.PairsByDay[day] {
		if share > threshold {
			emit(pair, share*0.9) // day signal is weaker than hour
		}
	}
	return out
}

// contextBased emits alternate contexts for the active pair, sequence
// continuations, and context-transition targets, each with its fixed
// confidence multiplier.
func (e *Engine) contextBased(m *model.PredictionModel, opts Options) []model.Prediction {
	var out []model.Prediction
	threshold := opts.threshold()

	if opts.ActivePair != "" {
		src, tgt, err := model.SplitPairKey(opts.ActivePair)
		if err == nil {
			// Alternate contexts for the active pair.
			if ps := m.LanguagePairs[opts.ActivePair]; ps != nil {
				for ctx, prob := range ps.Contexts {
					if ctx == opts.ActiveContext || prob*altContextMultiplier <= threshold {
						continue
					}
					out = append(out, model.Prediction{
						SourceLanguage: src,
						TargetLanguage: tgt,
						Context:        ctx,
						Score:          prob * altContextMultiplier,
						Reason:         model.ReasonContextAffinity,
					})
				}
			}

			// Language-pair sequence continuations.
			for key, ss := range m.Sequences {
				from, to, ok := splitSeq(key)
				if !ok || from != opts.ActivePair {
					continue
				}
				score := ss.Probability * pairSequenceMultiplier
				if score <= threshold {
					continue
				}
				toSrc, toTgt, err := model.SplitPairKey(to)
				if err != nil {
					continue
				}
				out = append(out, model.Prediction{
					SourceLanguage: toSrc,
					TargetLanguage: toTgt,
					Context:        opts.ActiveContext,
					Score:          score,
					Reason:         model.ReasonPairSequence,
				})
			}
		}
	}

	// Context-sequence continuations: the last two session contexts
	// match the head of a common 3-step sequence.
	if n := len(opts.RecentContexts); n >= 2 && opts.ActivePair != "" {
		src, tgt, err := model.SplitPairKey(opts.ActivePair)
		if err == nil {
			a, b := opts.RecentContexts[n-2], opts.RecentContexts[n-1]
			for _, seq := range m.User.CommonSequences {
				if seq.Steps[0] != a || seq.Steps[1] != b {
					continue
				}
				score := sequenceShare(m, seq) * contextSequenceMultiplier
				if score <= threshold {
					continue
				}
				out = append(out, model.Prediction{
					SourceLanguage: src,
					TargetLanguage: tgt,
					Context:        seq.Steps[2],
					Score:          score,
					Reason:         model.ReasonContextSequence,
				})
			}
		}
	}

	// User context-transition probabilities.
	if opts.ActiveContext != "" && opts.ActivePair != "" {
		src, tgt, err := model.SplitPairKey(opts.ActivePair)
		if err == nil {
			for next, prob := range m.User.ContextTransitions[opts.ActiveContext] {
				score := prob * transitionMultiplier
				if score <= threshold {
					continue
				}
				out = append(out, model.Prediction{
					SourceLanguage: src,
					TargetLanguage: tgt,
					Context:        next,
					Score:          score,
					Reason:         model.ReasonContextTransition,
				})
			}
		}
	}

	return out
}

// sessionBased emits continuations of the user's top common sequences
// whose head matches anywhere in the session's recent contexts.
func (e *Engine) sessionBased(m *model.PredictionModel, opts Options) []model.Prediction {
	if opts.ActivePair == "" || len(opts.RecentContexts) == 0 {
		return nil
	}
	src, tgt, err := model.SplitPairKey(opts.ActivePair)
	if err != nil {
		return nil
	}
	threshold := opts.threshold()
	last := opts.RecentContexts[len(opts.RecentContexts)-1]

	var out []model.Prediction
	for _, seq := range m.User.CommonSequences {
		var next string
		switch last {
		case seq.Steps[0]:
			next = seq.Steps[1]
		case seq.Steps[1]:
			next = seq.Steps[2]
		default:
			continue
		}
		score := sequenceShare(m, seq)
		if score <= threshold {
			continue
		}
		out = append(out, model.Prediction{
			SourceLanguage: src,
			TargetLanguage: tgt,
			Context:        next,
			Score:          score,
			Reason:         model.ReasonSessionSequence,
		})
	}
	return out
}

// termBased emits pairs and contexts historically associated with the
// recently used terms, weighted by the term's current-hour affinity.
func (e *Engine) termBased(m *model.PredictionModel, opts Options) []model.Prediction {
	if len(opts.RecentTerms) == 0 {
		return nil
	}
	threshold := opts.threshold()
	hour := opts.Now.Hour()

	var out []model.Prediction
	for _, term := range opts.RecentTerms {
		ts := m.Terms[term]
		if ts == nil || ts.Count == 0 {
			continue
		}
		hourAffinity := ts.HourlyDistribution[hour]
		for pair, count := range ts.LanguagePairs {
			src, tgt, err := model.SplitPairKey(pair)
			if err != nil {
				continue
			}
			base := float64(count) / float64(ts.Count)
			score := base * (0.7 + 0.3*hourAffinity*24)
			if score <= threshold {
				continue
			}
			out = append(out, model.Prediction{
				SourceLanguage: src,
				TargetLanguage: tgt,
				Context:        topTermContext(ts),
				Score:          score,
				Reason:         model.ReasonTermAffinity,
				Meta:           map[string]any{"term": term},
			})
		}
	}
	return out
}

// networkBased emits the strongest pairs when the current hour has
// historically high offline probability.
func (e *Engine) networkBased(m *model.PredictionModel, opts Options) []model.Prediction {
	total := 0
	for _, n := range m.Network.OfflineTimeOfDay {
		total += n
	}
	if total == 0 {
		return nil
	}
	share := float64(m.Network.OfflineTimeOfDay[opts.Now.Hour()]) / float64(total)
	if share <= 1.0/24 {
		return nil
	}

	var out []model.Prediction
	for _, pair := range m.TopPairsByCombinedScore(5) {
		ps := m.LanguagePairs[pair]
		src, tgt, err := model.SplitPairKey(pair)
		if err != nil || ps == nil {
			continue
		}
		out = append(out, model.Prediction{
			SourceLanguage:  src,
			TargetLanguage:  tgt,
			Context:         topContextFor(m, pair),
			Score:           ps.CombinedScore * share * 3,
			Reason:          model.ReasonOfflineRisk,
			OfflineRelevant: true,
		})
	}
	return out
}

// complexityBased emits the active pair when complex content dominates
// recent usage; complex material benefits most from being warmed ahead
// of a disconnect.
func (e *Engine) complexityBased(m *model.PredictionModel, opts Options) []model.Prediction {
	if opts.ActivePair == "" {
		return nil
	}
	total := 0
	for _, n := range m.Content.ComplexityBuckets {
		total += n
	}
	if total == 0 {
		return nil
	}
	complexShare := float64(m.Content.ComplexityBuckets["complex"]) / float64(total)
	if complexShare < 0.3 {
		return nil
	}
	src, tgt, err := model.SplitPairKey(opts.ActivePair)
	if err != nil {
		return nil
	}
	return []model.Prediction{{
		SourceLanguage:  src,
		TargetLanguage:  tgt,
		Context:         opts.ActiveContext,
		Score:           0.3 + 0.4*complexShare,
		Reason:          model.ReasonComplexity,
		OfflineRelevant: true,
	}}
}

// highScore is the fallback: any pair whose combined score clears the
// threshold, independent of the other signals.
func (e *Engine) highScore(m *model.PredictionModel, opts Options) []model.Prediction {
	threshold := opts.threshold()
	var out []model.Prediction
	for pair, ps := range m.LanguagePairs {
		if ps.CombinedScore <= threshold {
			continue
		}
		src, tgt, err := model.SplitPairKey(pair)
		if err != nil {
			continue
		}
		out = append(out, model.Prediction{
			SourceLanguage:  src,
			TargetLanguage:  tgt,
			Context:         topContextFor(m, pair),
			Score:           ps.CombinedScore,
			Reason:          model.ReasonHighScore,
			OfflineRelevant: true,
		})
	}
	return out
}

// external runs a pluggable hook, tolerating absence and panics.
func (e *Engine) external(ctx context.Context, fn StrategyFunc, m *model.PredictionModel, opts Options) (out []model.Prediction) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Prediction engine: external strategy panicked: %v", r)
			out = nil
		}
	}()
	return fn(ctx, m, opts)
}

// topContextFor returns the most probable context for a pair, or
// "general".
func topContextFor(m *model.PredictionModel, pair string) string {
	ps := m.LanguagePairs[pair]
	if ps == nil {
		return "general"
	}
	best, bestProb := "general", 0.0
	for ctx, prob := range ps.Contexts {
		if prob > bestProb || (prob == bestProb && ctx < best) {
			best, bestProb = ctx, prob
		}
	}
	return best
}

func topTermContext(ts *model.TermStats) string {
	best, bestCount := "general", 0
	for ctx, n := range ts.Contexts {
		if n > bestCount || (n == bestCount && ctx < best) {
			best, bestCount = ctx, n
		}
	}
	return best
}

// sequenceShare scores a common sequence by its share of all tracked
// common-sequence occurrences.
func sequenceShare(m *model.PredictionModel, seq model.ContextSequence) float64 {
	total := 0
	for _, s := range m.User.CommonSequences {
		total += s.Count
	}
	if total == 0 {
		return 0
	}
	return float64(seq.Count) / float64(total)
}

func splitSeq(key string) (from, to string, ok bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '=' && key[i+1] == '>' {
			return key[:i], key[i+2:], true
		}
	}
	return "", "", false
}
