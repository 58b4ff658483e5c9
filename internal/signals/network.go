// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package signals

import (
	"sync"
	"time"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
)

// NetworkTracker consumes pushed network events and keeps a bounded
// quality-sample window plus offline transition bookkeeping. Handlers
// are idempotent: redelivered online/offline states are ignored.
type NetworkTracker struct {
	mu sync.Mutex

	online       bool
	started      bool
	offlineSince time.Time
	status       collab.NetworkStatus

	samples []model.QualitySample

	// transition tallies, merged into the model on Publish
	offlineTimeOfDay [24]int
	weeklyOffline    [7]int
	durations        []float64 // minutes
	offlineEvents    int
	totalEvents      int
}

// NewNetworkTracker creates a tracker assuming an online start until
// the first event says otherwise.
func NewNetworkTracker() *NetworkTracker {
	return &NetworkTracker{online: true}
}

// Handle processes one pushed network event. Safe to call from the
// monitor's goroutine.
func (t *NetworkTracker) Handle(ev collab.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = ev.Status
	t.totalEvents++

	switch ev.Type {
	case collab.EventOffline:
		if t.started && !t.online {
			return // redelivery
		}
		t.started = true
		t.online = false
		t.offlineSince = ev.Timestamp
		t.offlineEvents++
		t.offlineTimeOfDay[ev.Timestamp.Hour()]++
		t.weeklyOffline[int(ev.Timestamp.Weekday())]++
	case collab.EventOnline:
		if t.started && t.online {
			return // redelivery
		}
		if !t.online && !t.offlineSince.IsZero() {
			minutes := ev.Timestamp.Sub(t.offlineSince).Minutes()
			if minutes > 0 {
				t.durations = append(t.durations, minutes)
				if len(t.durations) > model.MaxOfflineDurations {
					t.durations = t.durations[len(t.durations)-model.MaxOfflineDurations:]
				}
			}
		}
		t.started = true
		t.online = true
	case collab.EventQualityChange:
		t.samples = append(t.samples, model.QualitySample{
			Timestamp: ev.Timestamp,
			Quality:   ev.Status.Quality,
		})
		if len(t.samples) > model.MaxQualitySamples {
			t.samples = t.samples[len(t.samples)-model.MaxQualitySamples:]
		}
	}
}

// Online reports the last pushed connectivity state.
func (t *NetworkTracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Status returns the last pushed network status.
func (t *NetworkTracker) Status() collab.NetworkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// QualityDips counts quality samples below the threshold within the
// window ending now.
func (t *NetworkTracker) QualityDips(window time.Duration, threshold float64, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-window)
	dips := 0
	for _, s := range t.samples {
		if s.Timestamp.After(cutoff) && s.Quality < threshold {
			dips++
		}
	}
	return dips
}

// Publish merges the tracker's tallies into the model's network
// patterns. The caller holds the engine lock. Merging replaces the
// tracker-owned fields wholesale, so a model rebuild that carried the
// prior section forward is simply superseded.
func (t *NetworkTracker) Publish(m *model.PredictionModel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h := 0; h < 24; h++ {
		m.Network.OfflineTimeOfDay[h] = t.offlineTimeOfDay[h]
	}
	for d := 0; d < 7; d++ {
		m.Network.WeeklyOffline[d] = t.weeklyOffline[d]
	}
	m.Network.OfflineDurations = append([]float64(nil), t.durations...)
	m.Network.RecentQuality = append([]model.QualitySample(nil), t.samples...)
	if t.totalEvents > 0 {
		m.Network.OfflineFrequency = float64(t.offlineEvents) / float64(t.totalEvents)
	}
}

// Seed restores tracker tallies from a persisted model at startup so
// offline history survives restarts.
func (t *NetworkTracker) Seed(m *model.PredictionModel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.offlineTimeOfDay = m.Network.OfflineTimeOfDay
	t.weeklyOffline = m.Network.WeeklyOffline
	t.durations = append([]float64(nil), m.Network.OfflineDurations...)
	t.samples = append([]model.QualitySample(nil), m.Network.RecentQuality...)
}
