// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package signals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/util"
)

// significantMoveMeters is the Haversine distance that counts as a
// location change.
const significantMoveMeters = 100.0

// LocationSource provides position fixes. A nil source disables
// location tracking.
type LocationSource interface {
	Current(ctx context.Context) (*model.LocationSnapshot, error)
}

// ReverseGeocoder resolves a coordinate to a place name. Resolution is
// asynchronous; until it completes the location is keyed by rounded
// coordinates.
type ReverseGeocoder interface {
	Name(ctx context.Context, lat, lon float64) (string, error)
}

// LocationTracker follows the device's position and maintains
// per-location visit, transition, dwell, and connectivity statistics.
type LocationTracker struct {
	mu sync.Mutex

	source   LocationSource
	geocoder ReverseGeocoder

	state model.LocationState

	visits      map[string]*model.LocationVisit
	transitions map[string]map[string]int
	currentKey  string
}

// NewLocationTracker creates a tracker. Both source and geocoder may
// be nil.
func NewLocationTracker(source LocationSource, geocoder ReverseGeocoder) *LocationTracker {
	return &LocationTracker{
		source:      source,
		geocoder:    geocoder,
		visits:      make(map[string]*model.LocationVisit),
		transitions: make(map[string]map[string]int),
	}
}

// Sample polls the location source once.
func (t *LocationTracker) Sample(ctx context.Context, online bool) {
	if t.source == nil {
		return
	}
	fix, err := t.source.Current(ctx)
	if err != nil {
		log.Debugf("Location tracker: fix failed: %v", err)
		return
	}
	if fix == nil {
		return
	}
	t.Push(ctx, *fix, online)
}

// Push records a position fix, pulled or pushed. A move beyond the
// significance threshold closes the dwell at the previous location and
// opens a visit at the new one.
func (t *LocationTracker) Push(ctx context.Context, fix model.LocationSnapshot, online bool) {
	t.mu.Lock()

	now := time.Now()
	prev := t.state.Current

	t.state.History = append(t.state.History, fix)
	if len(t.state.History) > maxSamples {
		t.state.History = t.state.History[len(t.state.History)-maxSamples:]
	}

	moved := prev == nil ||
		util.HaversineMeters(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude) > significantMoveMeters

	if !moved {
		// Same place: just refresh connectivity tallies.
		if v := t.visits[t.currentKey]; v != nil {
			tallyConnectivity(v, online)
		}
		t.state.Current = &fix
		t.mu.Unlock()
		return
	}

	// Close out the dwell at the previous location.
	prevKey := t.currentKey
	if prevKey != "" {
		if v := t.visits[prevKey]; v != nil && !t.state.ArrivedAt.IsZero() {
			dwell := now.Sub(t.state.ArrivedAt).Minutes()
			v.DwellMinutes = append(v.DwellMinutes, dwell)
			if len(v.DwellMinutes) > model.MaxDwellSamples {
				v.DwellMinutes = v.DwellMinutes[len(v.DwellMinutes)-model.MaxDwellSamples:]
			}
		}
	}

	key := locationKey(fix)
	v := t.visits[key]
	if v == nil {
		v = &model.LocationVisit{
			Name:      fix.Name,
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
		}
		t.visits[key] = v
	}
	v.VisitCount++
	v.LastVisit = now
	tallyConnectivity(v, online)

	if prevKey != "" && prevKey != key {
		inner := t.transitions[prevKey]
		if inner == nil {
			inner = make(map[string]int)
			t.transitions[prevKey] = inner
		}
		inner[key]++
	}

	t.currentKey = key
	t.state.Current = &fix
	t.state.ArrivedAt = now
	t.pruneLocked()
	t.mu.Unlock()

	// Reverse-geocode asynchronously; the visit picks the name up
	// whenever it resolves.
	if fix.Name == "" && t.geocoder != nil {
		go t.resolveName(ctx, key, fix)
	}
}

func (t *LocationTracker) resolveName(ctx context.Context, key string, fix model.LocationSnapshot) {
	nameCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	name, err := t.geocoder.Name(nameCtx, fix.Latitude, fix.Longitude)
	if err != nil || name == "" {
		log.Debugf("Location tracker: reverse geocode failed: %v", err)
		return
	}
	t.mu.Lock()
	if v := t.visits[key]; v != nil {
		v.Name = name
	}
	if t.state.Current != nil && t.currentKey == key {
		t.state.Current.Name = name
	}
	t.mu.Unlock()
}

// RecordQuality attaches a connection-quality sample to the current
// location.
func (t *LocationTracker) RecordQuality(quality float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.visits[t.currentKey]
	if v == nil {
		return
	}
	v.RecentQuality = append(v.RecentQuality, quality)
	if len(v.RecentQuality) > model.MaxDwellSamples {
		v.RecentQuality = v.RecentQuality[len(v.RecentQuality)-model.MaxDwellSamples:]
	}
}

// Current returns the current location snapshot, or nil.
func (t *LocationTracker) Current() *model.LocationSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Current == nil {
		return nil
	}
	fix := *t.state.Current
	return &fix
}

// CurrentKey returns the canonical key of the current location.
func (t *LocationTracker) CurrentKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentKey
}

// OfflineRatioAt returns the historical offline ratio at a location
// key, or -1 when the location is unknown.
func (t *LocationTracker) OfflineRatioAt(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.visits[key]
	if v == nil {
		return -1
	}
	total := v.OnlineCount + v.OfflineCount
	if total == 0 {
		return -1
	}
	return float64(v.OfflineCount) / float64(total)
}

// pruneLocked keeps only the most visited locations.
func (t *LocationTracker) pruneLocked() {
	if len(t.visits) <= model.MaxTrackedLocations {
		return
	}
	type kv struct {
		key string
		n   int
	}
	ranked := make([]kv, 0, len(t.visits))
	for k, v := range t.visits {
		ranked = append(ranked, kv{k, v.VisitCount})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].key < ranked[j].key
	})
	for _, r := range ranked[model.MaxTrackedLocations:] {
		if r.key == t.currentKey {
			continue // never drop where we are
		}
		delete(t.visits, r.key)
		delete(t.transitions, r.key)
		for _, inner := range t.transitions {
			delete(inner, r.key)
		}
	}
}

// Publish writes the tracker's location statistics into the model. The
// caller holds the engine lock.
func (t *LocationTracker) Publish(m *model.PredictionModel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m.Location.Visits = make(map[string]*model.LocationVisit, len(t.visits))
	for k, v := range t.visits {
		vc := *v
		vc.RecentQuality = append([]float64(nil), v.RecentQuality...)
		vc.DwellMinutes = append([]float64(nil), v.DwellMinutes...)
		m.Location.Visits[k] = &vc
	}
	m.Location.Transitions = make(map[string]map[string]int, len(t.transitions))
	for k, inner := range t.transitions {
		cp := make(map[string]int, len(inner))
		for k2, n := range inner {
			cp[k2] = n
		}
		m.Location.Transitions[k] = cp
	}
}

// Seed restores visit statistics from a persisted model at startup.
func (t *LocationTracker) Seed(m *model.PredictionModel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range m.Location.Visits {
		vc := *v
		t.visits[k] = &vc
	}
	for k, inner := range m.Location.Transitions {
		cp := make(map[string]int, len(inner))
		for k2, n := range inner {
			cp[k2] = n
		}
		t.transitions[k] = cp
	}
}

func tallyConnectivity(v *model.LocationVisit, online bool) {
	if online {
		v.OnlineCount++
	} else {
		v.OfflineCount++
	}
}

// locationKey prefers the geocoded name and falls back to coordinates
// rounded to ~100 m.
func locationKey(fix model.LocationSnapshot) string {
	if fix.Name != "" {
		return fix.Name
	}
	return roundedCoordKey(fix.Latitude, fix.Longitude)
}

func roundedCoordKey(lat, lon float64) string {
	// Three decimal places is roughly 110 m of latitude.
	return fmt.Sprintf("%.3f,%.3f", lat, lon)
}
