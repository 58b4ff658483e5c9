// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregate rebuilds the prediction model from the usage log.
// A rebuild is a pure function of (log, prior model, now): it never
// patches the prior model in place, so repeated rebuilds over the same
// inputs produce identical output and nothing drifts incrementally.
package aggregate

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/medtranslate/edgecache/internal/model"
)

// ErrInsufficientData is returned when the usage log is below the
// minimum sample count; the caller keeps the prior model untouched.
var ErrInsufficientData = errors.New("aggregate: insufficient usage data")

// recencyWindowDays is the horizon of the linear recency decay:
// recency = max(0, 1 - ageDays/30).
const recencyWindowDays = 30.0

// Aggregator rebuilds prediction models.
type Aggregator struct {
	minSamples int
	// smoothing is the EMA factor for adaptive weight updates; 0
	// freezes the weights.
	smoothing float64
}

// New creates an aggregator.
func New(minSamples int, smoothing float64) *Aggregator {
	if minSamples < 1 {
		minSamples = 10
	}
	return &Aggregator{minSamples: minSamples, smoothing: smoothing}
}

// Rebuild computes a fresh model from the usage log. The prior model
// contributes only its adaptive weights (combined scores are computed
// with the weights in effect now, so weight updates apply on the next
// rebuild), and its tracker-owned sections (network, location, device
// patterns), which are deep-copied, never aliased.
func (a *Aggregator) Rebuild(entries []model.UsageLogEntry, prior *model.PredictionModel, now time.Time) (*model.PredictionModel, error) {
	if len(entries) < a.minSamples {
		return nil, ErrInsufficientData
	}
	if prior == nil {
		prior = model.NewPredictionModel()
	}

	// Work on a chronologically sorted copy; the log is normally
	// append-ordered but persistence round-trips must not matter.
	sorted := make([]model.UsageLogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	m := model.NewPredictionModel()
	m.UpdatedAt = now
	m.SampleCount = len(sorted)

	counts := a.firstPass(m, sorted, now)
	a.secondPass(m, sorted)
	a.normalize(m, counts)
	a.score(m, prior.Adaptive.Weights, counts, now)

	m.Adaptive = prior.Adaptive
	m.Adaptive.Weights = a.adaptWeights(prior.Adaptive.Weights, m, counts)

	copyTrackerSections(m, prior)

	return m, nil
}

// pass counters that only matter until normalization.
type rawCounts struct {
	hourly      [24]int
	daily       [7]int
	pairsByHour [24]map[string]int
	pairsByDay  [7]map[string]int
	pairTotal   int
	maxPair     int
	offline     int
}

// firstPass walks the log once, accumulating per-entry counts.
func (a *Aggregator) firstPass(m *model.PredictionModel, entries []model.UsageLogEntry, now time.Time) *rawCounts {
	c := &rawCounts{}
	for i := range c.pairsByHour {
		c.pairsByHour[i] = make(map[string]int)
	}
	for i := range c.pairsByDay {
		c.pairsByDay[i] = make(map[string]int)
	}

	totalLen := 0
	for i := range entries {
		e := &entries[i]
		hour := e.Timestamp.Hour()
		day := int(e.Timestamp.Weekday())
		pair := model.PairKey(e.SourceLanguage, e.TargetLanguage)

		c.hourly[hour]++
		c.daily[day]++
		c.pairsByHour[hour][pair]++
		c.pairsByDay[day][pair]++
		c.pairTotal++
		if !e.Online {
			c.offline++
		}

		ps := m.LanguagePairs[pair]
		if ps == nil {
			ps = &model.PairStats{Contexts: make(map[string]float64)}
			m.LanguagePairs[pair] = ps
		}
		ps.Count++
		if ps.Count > c.maxPair {
			c.maxPair = ps.Count
		}
		if e.Timestamp.After(ps.LastUsed) {
			ps.LastUsed = e.Timestamp
		}
		if e.Context != "" {
			ps.Contexts[e.Context]++ // raw count until normalize
		}

		if e.Context != "" {
			cs := m.Contexts[e.Context]
			if cs == nil {
				cs = &model.ContextStats{}
				m.Contexts[e.Context] = cs
			}
			cs.Count++
			cs.HourlyDistribution[hour]++
		}

		for _, term := range e.Terms {
			ts := m.Terms[term]
			if ts == nil {
				ts = &model.TermStats{
					LanguagePairs: make(map[string]int),
					Contexts:      make(map[string]int),
				}
				m.Terms[term] = ts
			}
			ts.Count++
			ts.LanguagePairs[pair]++
			if e.Context != "" {
				ts.Contexts[e.Context]++
			}
			ts.HourlyDistribution[hour]++
		}

		// Term co-occurrence within one entry.
		for x := 0; x < len(e.Terms); x++ {
			for y := x + 1; y < len(e.Terms); y++ {
				addCooccurrence(m.Content.TermCooccurrence, e.Terms[x], e.Terms[y])
				addCooccurrence(m.Content.TermCooccurrence, e.Terms[y], e.Terms[x])
			}
		}

		totalLen += e.TextLength
		m.Content.ComplexityBuckets[complexityBucket(e.TextLength)]++
	}

	if len(entries) > 0 {
		m.Content.AvgTextLength = float64(totalLen) / float64(len(entries))
	}

	// Recency per pair, linear decay over the 30-day window.
	for _, ps := range m.LanguagePairs {
		ageDays := now.Sub(ps.LastUsed).Hours() / 24
		ps.RecencyScore = math.Max(0, 1-ageDays/recencyWindowDays)
	}

	return c
}

func addCooccurrence(co map[string]map[string]int, a, b string) {
	inner := co[a]
	if inner == nil {
		inner = make(map[string]int)
		co[a] = inner
	}
	inner[b]++
}

func complexityBucket(textLen int) string {
	switch {
	case textLen < 50:
		return "simple"
	case textLen < 200:
		return "moderate"
	default:
		return "complex"
	}
}

// secondPass walks consecutive-entry pairs inside the 30-minute session
// gate, building sequences, context transitions, session statistics,
// and the common 3-step context sequences.
func (a *Aggregator) secondPass(m *model.PredictionModel, entries []model.UsageLogEntry) {
	type session struct {
		start    time.Time
		end      time.Time
		items    int
		contexts []string
	}

	var sessions []session
	var cur *session
	seqCounts := make(map[[3]string]int)
	transitions := make(map[string]map[string]float64)

	for i := range entries {
		e := &entries[i]
		if cur == nil || e.Timestamp.Sub(cur.end) > model.SessionGap {
			sessions = append(sessions, session{start: e.Timestamp, end: e.Timestamp})
			cur = &sessions[len(sessions)-1]
		}
		cur.end = e.Timestamp
		cur.items++
		if e.Context != "" {
			cur.contexts = append(cur.contexts, e.Context)
		}

		if i == 0 {
			continue
		}
		prev := &entries[i-1]
		if e.Timestamp.Sub(prev.Timestamp) > model.SessionGap {
			continue
		}

		// Language-pair sequence.
		from := model.PairKey(prev.SourceLanguage, prev.TargetLanguage)
		to := model.PairKey(e.SourceLanguage, e.TargetLanguage)
		if from != to {
			key := model.SequenceKey(from, to)
			ss := m.Sequences[key]
			if ss == nil {
				ss = &model.SequenceStats{}
				m.Sequences[key] = ss
			}
			ss.Count++
			ss.HourlyDistribution[e.Timestamp.Hour()]++
		}

		// Context transition.
		if prev.Context != "" && e.Context != "" && prev.Context != e.Context {
			inner := transitions[prev.Context]
			if inner == nil {
				inner = make(map[string]float64)
				transitions[prev.Context] = inner
			}
			inner[e.Context]++ // raw count until normalize
		}
	}

	// Three-step context sequences inside each session.
	for _, s := range sessions {
		for i := 0; i+2 < len(s.contexts); i++ {
			seqCounts[[3]string{s.contexts[i], s.contexts[i+1], s.contexts[i+2]}]++
		}
	}
	m.User.CommonSequences = topSequences(seqCounts, model.MaxCommonSequences)
	m.User.ContextTransitions = transitions

	// Session duration EMA (chronological) and items per session.
	var ema float64
	var totalItems int
	for i, s := range sessions {
		minutes := s.end.Sub(s.start).Minutes()
		if i == 0 {
			ema = minutes
		} else {
			ema = 0.3*minutes + 0.7*ema
		}
		totalItems += s.items
	}
	m.User.SessionDurationEMA = ema
	if len(sessions) > 0 {
		m.User.AvgItemsPerSession = float64(totalItems) / float64(len(sessions))
	}
}

// topSequences keeps the n most frequent 3-step sequences, with a
// deterministic tie-break on the steps themselves.
func topSequences(counts map[[3]string]int, n int) []model.ContextSequence {
	out := make([]model.ContextSequence, 0, len(counts))
	for steps, count := range counts {
		out = append(out, model.ContextSequence{Steps: steps, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		a, b := out[i].Steps, out[j].Steps
		for k := 0; k < 3; k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// normalize converts every raw count accumulated by the passes into a
// probability. Rates are computed only here, after both passes, never
// incrementally.
func (a *Aggregator) normalize(m *model.PredictionModel, c *rawCounts) {
	total := float64(c.pairTotal)
	if total > 0 {
		for h := 0; h < 24; h++ {
			m.Time.HourlyUsage[h] = float64(c.hourly[h]) / total
		}
		for d := 0; d < 7; d++ {
			m.Time.DailyUsage[d] = float64(c.daily[d]) / total
		}
		// Log-derived offline share; the network tracker's event-derived
		// value supersedes it once push events have been observed.
		m.Network.OfflineFrequency = float64(c.offline) / total
	}
	for h := 0; h < 24; h++ {
		m.Time.PairsByHour[h] = normalizeIntMap(c.pairsByHour[h])
	}
	for d := 0; d < 7; d++ {
		m.Time.PairsByDay[d] = normalizeIntMap(c.pairsByDay[d])
	}

	for _, ps := range m.LanguagePairs {
		normalizeFloatMap(ps.Contexts)
	}

	for _, cs := range m.Contexts {
		normalizeHistogram(&cs.HourlyDistribution)
	}
	for _, ts := range m.Terms {
		normalizeHistogram(&ts.HourlyDistribution)
	}

	// Sequence probability is P(to | from): count over all outgoing
	// transitions from the same source pair.
	outgoing := make(map[string]int)
	for key, ss := range m.Sequences {
		from, _, ok := splitSequenceKey(key)
		if !ok {
			continue
		}
		outgoing[from] += ss.Count
	}
	for key, ss := range m.Sequences {
		from, _, ok := splitSequenceKey(key)
		if ok && outgoing[from] > 0 {
			ss.Probability = float64(ss.Count) / float64(outgoing[from])
		}
		normalizeHistogram(&ss.HourlyDistribution)
	}

	for _, inner := range m.User.ContextTransitions {
		normalizeFloatMap(inner)
	}
}

// score computes time scores and the weighted combined score per pair,
// using the adaptive weights in effect before this rebuild.
func (a *Aggregator) score(m *model.PredictionModel, w model.ScoreWeights, c *rawCounts, now time.Time) {
	hour := now.Hour()
	for pair, ps := range m.LanguagePairs {
		ps.TimeScore = m.Time.PairsByHour[hour][pair]

		freq := 0.0
		if c.maxPair > 0 {
			freq = float64(ps.Count) / float64(c.maxPair)
		}
		ps.CombinedScore = w.Frequency*freq + w.Recency*ps.RecencyScore + w.Time*ps.TimeScore
	}
}

// adaptWeights nudges the adaptive weights toward targets derived from
// how concentrated each signal is in this log: a flat hourly histogram
// carries no information, so the time weight sinks; a dominant pair
// raises the frequency weight. The smoothed result takes effect on the
// next rebuild.
func (a *Aggregator) adaptWeights(prev model.ScoreWeights, m *model.PredictionModel, c *rawCounts) model.ScoreWeights {
	if a.smoothing <= 0 {
		return prev
	}

	timeTarget := 0.1 + 0.3*(1-normalizedEntropy(m.Time.HourlyUsage[:]))
	freqTarget := 0.15 + 0.3*concentration(m.LanguagePairs, c.pairTotal)
	recencyTarget := 0.3
	contextTarget := 0.1
	locationTarget := 0.1

	sum := timeTarget + freqTarget + recencyTarget + contextTarget + locationTarget
	target := model.ScoreWeights{
		Time:      timeTarget / sum,
		Frequency: freqTarget / sum,
		Recency:   recencyTarget / sum,
		Context:   contextTarget / sum,
		Location:  locationTarget / sum,
	}

	s := a.smoothing
	return model.ScoreWeights{
		Time:      (1-s)*prev.Time + s*target.Time,
		Frequency: (1-s)*prev.Frequency + s*target.Frequency,
		Recency:   (1-s)*prev.Recency + s*target.Recency,
		Context:   (1-s)*prev.Context + s*target.Context,
		Location:  (1-s)*prev.Location + s*target.Location,
	}
}

// normalizedEntropy returns the Shannon entropy of a distribution
// scaled to [0,1].
func normalizedEntropy(dist []float64) float64 {
	var h float64
	n := 0
	for _, p := range dist {
		if p > 0 {
			h -= p * math.Log2(p)
			n++
		}
	}
	if n <= 1 {
		return 0
	}
	return h / math.Log2(float64(len(dist)))
}

// concentration is the Herfindahl index of the pair distribution.
func concentration(pairs map[string]*model.PairStats, total int) float64 {
	if total == 0 {
		return 0
	}
	var hhi float64
	for _, ps := range pairs {
		share := float64(ps.Count) / float64(total)
		hhi += share * share
	}
	return hhi
}

func normalizeIntMap(in map[string]int) map[string]float64 {
	out := make(map[string]float64, len(in))
	total := 0
	for _, v := range in {
		total += v
	}
	if total == 0 {
		return out
	}
	for k, v := range in {
		out[k] = float64(v) / float64(total)
	}
	return out
}

func normalizeFloatMap(in map[string]float64) {
	var total float64
	for _, v := range in {
		total += v
	}
	if total == 0 {
		return
	}
	for k, v := range in {
		in[k] = v / total
	}
}

func normalizeHistogram(h *[24]float64) {
	var total float64
	for _, v := range h {
		total += v
	}
	if total == 0 {
		return
	}
	for i := range h {
		h[i] /= total
	}
}

func splitSequenceKey(key string) (from, to string, ok bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '=' && key[i+1] == '>' {
			return key[:i], key[i+2:], true
		}
	}
	return "", "", false
}

// copyTrackerSections deep-copies the tracker-owned model sections from
// the prior model so the rebuilt model never aliases prior maps.
func copyTrackerSections(dst, src *model.PredictionModel) {
	logShare := dst.Network.OfflineFrequency
	dst.Network = src.Network
	if src.Network.OfflineFrequency == 0 {
		// No event-derived frequency yet; keep the log-derived share
		// computed during normalization.
		dst.Network.OfflineFrequency = logShare
	}
	dst.Network.OfflineDurations = append([]float64(nil), src.Network.OfflineDurations...)
	dst.Network.RecentQuality = append([]model.QualitySample(nil), src.Network.RecentQuality...)
	dst.Network.ForecastedOffline = append([]model.OfflineWindow(nil), src.Network.ForecastedOffline...)

	dst.Location.Visits = make(map[string]*model.LocationVisit, len(src.Location.Visits))
	for k, v := range src.Location.Visits {
		vc := *v
		vc.RecentQuality = append([]float64(nil), v.RecentQuality...)
		vc.DwellMinutes = append([]float64(nil), v.DwellMinutes...)
		dst.Location.Visits[k] = &vc
	}
	dst.Location.Transitions = make(map[string]map[string]int, len(src.Location.Transitions))
	for k, inner := range src.Location.Transitions {
		m2 := make(map[string]int, len(inner))
		for k2, v2 := range inner {
			m2[k2] = v2
		}
		dst.Location.Transitions[k] = m2
	}

	dst.Device = src.Device
	dst.Device.DischargeHistory = append([]model.DischargeSample(nil), src.Device.DischargeHistory...)
}
