// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package signals implements the passive device, storage, network, and
// location samplers. Each tracker is independently optional, keeps a
// bounded sample history, and republishes derived aggregates into the
// prediction model when the engine asks it to.
package signals

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/model"
)

// maxSamples bounds every tracker ring buffer.
const maxSamples = 100

// BatterySampler reads the platform battery state. Implementations are
// device specific; a nil sampler disables battery tracking.
type BatterySampler interface {
	Sample(ctx context.Context) (level float64, charging bool, err error)
}

// DeviceTracker samples battery and charging state and derives the
// discharge rate from the most recent discharge-only samples.
type DeviceTracker struct {
	mu      sync.Mutex
	sampler BatterySampler

	state   model.DevicePerformanceState
	samples []batterySample
}

// NewDeviceTracker creates a device tracker. sampler may be nil.
func NewDeviceTracker(sampler BatterySampler) *DeviceTracker {
	t := &DeviceTracker{sampler: sampler}
	t.state.IdleSince = time.Now()
	return t
}

type batterySample struct {
	at       time.Time
	level    float64
	charging bool
}

// Sample polls the battery sampler once. Errors are logged and leave
// the previous state untouched.
func (t *DeviceTracker) Sample(ctx context.Context) {
	if t.sampler == nil {
		return
	}
	level, charging, err := t.sampler.Sample(ctx)
	if err != nil {
		log.Debugf("Device tracker: battery sample failed: %v", err)
		return
	}
	t.Push(level, charging)
}

// Push records a battery observation, from the periodic sampler or a
// platform push event.
func (t *DeviceTracker) Push(level float64, charging bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Current.BatteryLevel = level
	t.state.Current.BatteryCharging = charging
	t.state.History = append(t.state.History, t.state.Current)
	if len(t.state.History) > maxSamples {
		t.state.History = t.state.History[len(t.state.History)-maxSamples:]
	}
	t.samples = append(t.samples, batterySample{at: time.Now(), level: level, charging: charging})
	if len(t.samples) > maxSamples {
		t.samples = t.samples[len(t.samples)-maxSamples:]
	}
}

// MarkActivity resets the idle clock; called on every logged
// translation.
func (t *DeviceTracker) MarkActivity() {
	t.mu.Lock()
	t.state.IdleSince = time.Now()
	t.mu.Unlock()
}

// IdleDuration reports how long the device has been idle.
func (t *DeviceTracker) IdleDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.state.IdleSince)
}

// Snapshot returns the current device state.
func (t *DeviceTracker) Snapshot() model.DeviceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Current
}

// SetNetwork merges live network figures into the device snapshot so
// usage entries capture both in one place.
func (t *DeviceTracker) SetNetwork(speedMbps, latencyMs, packetLoss, quality float64) {
	t.mu.Lock()
	t.state.Current.NetworkSpeedMbps = speedMbps
	t.state.Current.LatencyMs = latencyMs
	t.state.Current.PacketLoss = packetLoss
	t.state.Current.NetworkQuality = quality
	t.mu.Unlock()
}

// DischargeRate returns the battery discharge rate in fraction of full
// charge per hour, computed over the most recent run of discharge-only
// samples. Returns 0 when there is not enough history.
func (t *DeviceTracker) DischargeRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dischargeRateLocked()
}

func (t *DeviceTracker) dischargeRateLocked() float64 {
	// Walk back over the trailing discharge-only run.
	end := len(t.samples) - 1
	if end < 1 || t.samples[end].charging {
		return 0
	}
	start := end
	for start > 0 && !t.samples[start-1].charging && t.samples[start-1].level >= t.samples[start].level {
		start--
	}
	first, last := t.samples[start], t.samples[end]
	hours := last.at.Sub(first.at).Hours()
	if hours <= 0 {
		return 0
	}
	drop := first.level - last.level
	if drop <= 0 {
		return 0
	}
	return drop / hours
}

// Publish writes the tracker's derived aggregates into the model's
// device patterns. The caller holds the engine lock.
func (t *DeviceTracker) Publish(m *model.PredictionModel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := t.dischargeRateLocked()
	m.Device.DischargeRatePerHour = rate
	if rate > 0 {
		m.Device.DischargeHistory = append(m.Device.DischargeHistory, model.DischargeSample{
			Timestamp:   time.Now(),
			RatePerHour: rate,
		})
		if len(m.Device.DischargeHistory) > maxSamples {
			m.Device.DischargeHistory = m.Device.DischargeHistory[len(m.Device.DischargeHistory)-maxSamples:]
		}
	}
	idle := time.Since(t.state.IdleSince).Minutes()
	if m.Device.AvgIdleMinutes == 0 {
		m.Device.AvgIdleMinutes = idle
	} else {
		m.Device.AvgIdleMinutes = 0.2*idle + 0.8*m.Device.AvgIdleMinutes
	}
}
