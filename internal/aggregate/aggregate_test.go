// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aggregate

import (
	"testing"
	"time"

	"github.com/medtranslate/edgecache/internal/model"
)

var testNow = time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC) // a Monday

func entry(at time.Time, src, tgt, context string, terms ...string) model.UsageLogEntry {
	return model.UsageLogEntry{
		Timestamp:      at,
		SourceLanguage: src,
		TargetLanguage: tgt,
		Context:        context,
		TextLength:     40,
		Terms:          terms,
		Online:         true,
	}
}

func TestRebuildInsufficientData(t *testing.T) {
	a := New(10, 0)
	_, err := a.Rebuild([]model.UsageLogEntry{entry(testNow, "es", "en", "general")}, nil, testNow)
	if err != ErrInsufficientData {
		t.Fatalf("Rebuild() error = %v, want ErrInsufficientData", err)
	}
}

func TestRebuildBasicCounts(t *testing.T) {
	a := New(3, 0)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-3*time.Minute), "es", "en", "emergency", "chest pain"),
		entry(testNow.Add(-2*time.Minute), "es", "en", "emergency"),
		entry(testNow.Add(-1*time.Minute), "ar", "en", "medication"),
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	if m.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", m.SampleCount)
	}
	es := m.LanguagePairs["es->en"]
	if es == nil || es.Count != 2 {
		t.Fatalf("es->en stats = %+v, want count 2", es)
	}
	if es.RecencyScore < 0.99 {
		t.Errorf("fresh pair recency = %v, want ~1.0", es.RecencyScore)
	}
	if p := es.Contexts["emergency"]; p < 0.99 || p > 1.01 {
		t.Errorf("es->en emergency probability = %v, want 1.0", p)
	}
	if m.Contexts["emergency"].Count != 2 {
		t.Errorf("emergency context count = %d, want 2", m.Contexts["emergency"].Count)
	}
	if m.Terms["chest pain"] == nil || m.Terms["chest pain"].Count != 1 {
		t.Error("term stats missing for 'chest pain'")
	}
}

func TestRebuildHistogramsNormalized(t *testing.T) {
	a := New(3, 0)
	var entries []model.UsageLogEntry
	for i := 0; i < 12; i++ {
		entries = append(entries, entry(testNow.Add(time.Duration(-i)*time.Hour), "es", "en", "general"))
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	var hourSum, daySum float64
	for _, p := range m.Time.HourlyUsage {
		hourSum += p
	}
	for _, p := range m.Time.DailyUsage {
		daySum += p
	}
	if hourSum < 0.99 || hourSum > 1.01 {
		t.Errorf("hourly usage sums to %v, want 1.0", hourSum)
	}
	if daySum < 0.99 || daySum > 1.01 {
		t.Errorf("daily usage sums to %v, want 1.0", daySum)
	}
}

func TestRebuildRecencyDecay(t *testing.T) {
	a := New(3, 0)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-10*24*time.Hour), "es", "en", "general"),
		entry(testNow.Add(-20*24*time.Hour), "ar", "en", "general"),
		entry(testNow.Add(-35*24*time.Hour), "fr", "en", "general"),
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	tenDays := m.LanguagePairs["es->en"].RecencyScore
	twentyDays := m.LanguagePairs["ar->en"].RecencyScore
	if tenDays <= twentyDays {
		t.Errorf("recency 10d = %v, 20d = %v; decay must be monotonic", tenDays, twentyDays)
	}
	// Linear over the 30-day window: 1 - age/30.
	if tenDays < 0.66 || tenDays > 0.68 {
		t.Errorf("recency at 10 days = %v, want ~0.667", tenDays)
	}
	if twentyDays < 0.32 || twentyDays > 0.34 {
		t.Errorf("recency at 20 days = %v, want ~0.333", twentyDays)
	}
	// Beyond the window the score bottoms out at zero.
	if got := m.LanguagePairs["fr->en"].RecencyScore; got != 0 {
		t.Errorf("recency at 35 days = %v, want 0", got)
	}
}

func TestRebuildOfflineShare(t *testing.T) {
	a := New(3, 0)
	offline := entry(testNow.Add(-3*time.Minute), "es", "en", "general")
	offline.Online = false
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-5*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-4*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-2*time.Minute), "es", "en", "general"),
		offline,
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	if m.Network.OfflineFrequency != 0.25 {
		t.Errorf("OfflineFrequency = %v, want 0.25 of the log offline", m.Network.OfflineFrequency)
	}
}

func TestRebuildSequences(t *testing.T) {
	a := New(3, 0)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-10*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-8*time.Minute), "ar", "en", "general"),
		entry(testNow.Add(-6*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-4*time.Minute), "ar", "en", "general"),
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	seq := m.Sequences["es->en=>ar->en"]
	if seq == nil || seq.Count != 2 {
		t.Fatalf("es->en => ar->en sequence = %+v, want count 2", seq)
	}
	// Both transitions out of es->en go to ar->en.
	if seq.Probability < 0.99 {
		t.Errorf("sequence probability = %v, want 1.0", seq.Probability)
	}
}

func TestRebuildSessionGapSplitsSequences(t *testing.T) {
	a := New(2, 0)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-2*time.Hour), "es", "en", "general"),
		// Well past the session gap: no sequence should link these.
		entry(testNow, "ar", "en", "general"),
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	if len(m.Sequences) != 0 {
		t.Errorf("sequences across a session gap: %v", m.Sequences)
	}
	if m.User.AvgItemsPerSession != 1 {
		t.Errorf("AvgItemsPerSession = %v, want 1 (two one-item sessions)", m.User.AvgItemsPerSession)
	}
}

func TestRebuildContextTransitions(t *testing.T) {
	a := New(3, 0)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-6*time.Minute), "es", "en", "emergency"),
		entry(testNow.Add(-4*time.Minute), "es", "en", "medication"),
		entry(testNow.Add(-2*time.Minute), "es", "en", "emergency"),
		entry(testNow.Add(-1*time.Minute), "es", "en", "medication"),
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	inner := m.User.ContextTransitions["emergency"]
	if inner == nil {
		t.Fatal("no transitions recorded out of emergency")
	}
	if p := inner["medication"]; p < 0.99 || p > 1.01 {
		t.Errorf("emergency->medication probability = %v, want 1.0", p)
	}
}

func TestRebuildCommonSequences(t *testing.T) {
	a := New(3, 0)
	var entries []model.UsageLogEntry
	contexts := []string{"emergency", "medication", "discharge"}
	base := testNow.Add(-time.Hour)
	for rep := 0; rep < 3; rep++ {
		for i, c := range contexts {
			entries = append(entries, entry(base.Add(time.Duration(rep*3+i)*time.Minute), "es", "en", c))
		}
	}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	if len(m.User.CommonSequences) == 0 {
		t.Fatal("no common sequences found")
	}
	top := m.User.CommonSequences[0]
	want := [3]string{"emergency", "medication", "discharge"}
	if top.Steps != want {
		t.Errorf("top sequence = %v, want %v", top.Steps, want)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	a := New(3, 0.3)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-30*time.Minute), "es", "en", "emergency", "fracture"),
		entry(testNow.Add(-20*time.Minute), "ar", "en", "medication"),
		entry(testNow.Add(-10*time.Minute), "es", "en", "emergency"),
	}
	prior := model.NewPredictionModel()

	m1, err := a.Rebuild(entries, prior, testNow)
	if err != nil {
		t.Fatalf("first Rebuild() failed: %v", err)
	}
	m2, err := a.Rebuild(entries, prior, testNow)
	if err != nil {
		t.Fatalf("second Rebuild() failed: %v", err)
	}

	if m1.LanguagePairs["es->en"].CombinedScore != m2.LanguagePairs["es->en"].CombinedScore {
		t.Error("repeated rebuild over the same inputs drifted")
	}
	if m1.User.SessionDurationEMA != m2.User.SessionDurationEMA {
		t.Error("session EMA drifted between identical rebuilds")
	}
}

func TestRebuildPreservesTrackerSections(t *testing.T) {
	a := New(2, 0)
	prior := model.NewPredictionModel()
	prior.Network.OfflineTimeOfDay[14] = 5
	prior.Network.OfflineDurations = []float64{12.5}
	prior.Location.Visits["clinic"] = &model.LocationVisit{Name: "clinic", VisitCount: 3}
	prior.Device.DischargeRatePerHour = 0.08

	entries := []model.UsageLogEntry{
		entry(testNow.Add(-2*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-1*time.Minute), "es", "en", "general"),
	}
	m, err := a.Rebuild(entries, prior, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}

	if m.Network.OfflineTimeOfDay[14] != 5 {
		t.Error("network patterns not carried forward")
	}
	if m.Device.DischargeRatePerHour != 0.08 {
		t.Error("device patterns not carried forward")
	}
	v := m.Location.Visits["clinic"]
	if v == nil || v.VisitCount != 3 {
		t.Fatal("location visits not carried forward")
	}
	// Deep copy: mutating the rebuilt model must not touch the prior.
	v.VisitCount = 99
	if prior.Location.Visits["clinic"].VisitCount != 3 {
		t.Error("rebuilt model aliases the prior's location map")
	}
}

func TestAdaptWeightsFrozenWithoutSmoothing(t *testing.T) {
	a := New(2, 0)
	prior := model.NewPredictionModel()
	prior.Adaptive.Weights = model.ScoreWeights{Time: 0.5, Recency: 0.2, Frequency: 0.2, Context: 0.05, Location: 0.05}

	entries := []model.UsageLogEntry{
		entry(testNow.Add(-2*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-1*time.Minute), "es", "en", "general"),
	}
	m, err := a.Rebuild(entries, prior, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	if m.Adaptive.Weights != prior.Adaptive.Weights {
		t.Errorf("weights changed with smoothing disabled: %+v", m.Adaptive.Weights)
	}
}

func TestAdaptWeightsStayNormalized(t *testing.T) {
	a := New(2, 0.5)
	entries := []model.UsageLogEntry{
		entry(testNow.Add(-2*time.Minute), "es", "en", "general"),
		entry(testNow.Add(-1*time.Minute), "ar", "en", "general"),
	}
	m, err := a.Rebuild(entries, model.NewPredictionModel(), testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	w := m.Adaptive.Weights
	sum := w.Time + w.Recency + w.Frequency + w.Context + w.Location
	if sum < 0.98 || sum > 1.02 {
		t.Errorf("adapted weights sum = %v, want ~1.0", sum)
	}
}

func TestComplexityBuckets(t *testing.T) {
	a := New(3, 0)
	mk := func(length int) model.UsageLogEntry {
		e := entry(testNow, "es", "en", "general")
		e.TextLength = length
		return e
	}
	entries := []model.UsageLogEntry{mk(10), mk(100), mk(300)}

	m, err := a.Rebuild(entries, nil, testNow)
	if err != nil {
		t.Fatalf("Rebuild() failed: %v", err)
	}
	for _, bucket := range []string{"simple", "moderate", "complex"} {
		if m.Content.ComplexityBuckets[bucket] != 1 {
			t.Errorf("bucket %q = %d, want 1", bucket, m.Content.ComplexityBuckets[bucket])
		}
	}
}
