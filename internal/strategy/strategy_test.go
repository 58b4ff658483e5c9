// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package strategy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
)

var testNow = time.Date(2026, 3, 16, 14, 0, 0, 0, time.UTC)

func healthyInputs() Inputs {
	return Inputs{
		Base: 1.0,
		Now:  testNow,
		Device: model.DeviceSnapshot{
			BatteryLevel: 0.8,
		},
		Network: collab.NetworkStatus{
			Online:    true,
			Quality:   0.6,
			SpeedMbps: 5,
		},
		StorageHeadroom:      0.5,
		LocationOfflineRatio: -1,
	}
}

func hasAdjustment(r Result, reason string) bool {
	for _, a := range r.Adjustments {
		if a.Reason == reason {
			return true
		}
	}
	return false
}

func TestComputeOfflineHitsFloor(t *testing.T) {
	in := healthyInputs()
	in.Network.Online = false
	r := Compute(in)
	// The zero multiplier applies before the clamp, so the result is
	// the 0.1 floor, never a bare zero.
	if r.Value != 0.1 {
		t.Errorf("offline aggressiveness = %v, want the 0.1 floor", r.Value)
	}
	if !hasAdjustment(r, "offline") {
		t.Errorf("adjustments = %+v, want the offline marker", r.Adjustments)
	}

	// Low battery on top changes nothing: the floor still holds.
	in.Device.BatteryLevel = 0.15
	if r := Compute(in); r.Value != 0.1 {
		t.Errorf("offline low-battery aggressiveness = %v, want 0.1", r.Value)
	}
}

func TestComputeNeutralConditions(t *testing.T) {
	r := Compute(healthyInputs())
	if r.Value != 1.0 {
		t.Errorf("neutral aggressiveness = %v, want the base 1.0", r.Value)
	}
	if len(r.Adjustments) != 0 {
		t.Errorf("neutral conditions produced adjustments: %+v", r.Adjustments)
	}
}

func TestComputeBatterySteps(t *testing.T) {
	tests := []struct {
		name     string
		level    float64
		charging bool
		want     float64
		reason   string
	}{
		{"critical battery", 0.1, false, 0.3, "battery_critical"},
		{"low battery", 0.25, false, 0.6, "battery_low"},
		{"charging", 0.25, true, 1.2, "charging"},
		{"unknown battery", 0, false, 1.0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInputs()
			in.Device.BatteryLevel = tt.level
			in.Device.BatteryCharging = tt.charging
			r := Compute(in)
			if r.Value != tt.want {
				t.Errorf("value = %v, want %v", r.Value, tt.want)
			}
			if tt.reason != "" && !hasAdjustment(r, tt.reason) {
				t.Errorf("missing %q adjustment: %+v", tt.reason, r.Adjustments)
			}
		})
	}
}

func TestComputeStorageSteps(t *testing.T) {
	in := healthyInputs()
	in.StorageHeadroom = 0.03
	if r := Compute(in); r.Value != 0.2 {
		t.Errorf("critical storage value = %v, want 0.2", r.Value)
	}
	in.StorageHeadroom = 0.1
	if r := Compute(in); r.Value != 0.5 {
		t.Errorf("low storage value = %v, want 0.5", r.Value)
	}
}

func TestComputeNetworkClass(t *testing.T) {
	in := healthyInputs()
	in.Network.Quality = 0.9
	in.Network.SpeedMbps = 25
	if r := Compute(in); r.Value != 1.3 {
		t.Errorf("fast network value = %v, want 1.3", r.Value)
	}
	in.Network.Quality = 0.3
	in.Network.SpeedMbps = 2
	if r := Compute(in); r.Value < 0.69 || r.Value > 0.71 {
		t.Errorf("poor network value = %v, want 0.7", r.Value)
	}
}

func TestComputeIdleAndLocation(t *testing.T) {
	in := healthyInputs()
	in.IdleDuration = 15 * time.Minute
	in.LocationOfflineRatio = 0.5
	r := Compute(in)
	// 1.0 * 1.2 (idle) * 1.4 (offline-prone location).
	if r.Value < 1.67 || r.Value > 1.69 {
		t.Errorf("value = %v, want 1.68", r.Value)
	}
}

func TestComputeHourHistory(t *testing.T) {
	in := healthyInputs()
	m := model.NewPredictionModel()
	m.Network.OfflineTimeOfDay[14] = 3
	m.Network.OfflineTimeOfDay[2] = 1
	in.Model = m
	r := Compute(in)
	if !hasAdjustment(r, "hour_offline_history") {
		t.Errorf("adjustments = %+v, want hour_offline_history", r.Adjustments)
	}
	if r.Value < 1.29 || r.Value > 1.31 {
		t.Errorf("value = %v, want 1.3", r.Value)
	}
}

func TestComputeForecastImminent(t *testing.T) {
	in := healthyInputs()
	in.Forecast = &collab.RiskForecast{
		Risk:       0.8,
		Hour:       15, // one hour out
		Confidence: 0.9,
		ValidUntil: testNow.Add(time.Hour),
	}
	r := Compute(in)
	if !hasAdjustment(r, "forecast_imminent") {
		t.Errorf("adjustments = %+v, want forecast_imminent", r.Adjustments)
	}

	// A distant window does not count as imminent.
	in.Forecast.Hour = 22
	if r := Compute(in); hasAdjustment(r, "forecast_imminent") {
		t.Error("forecast eight hours out treated as imminent")
	}

	// Low confidence is ignored.
	in.Forecast.Hour = 15
	in.Forecast.Confidence = 0.4
	if r := Compute(in); hasAdjustment(r, "forecast_imminent") {
		t.Error("low-confidence forecast applied")
	}
}

func TestComputeClampsBothEnds(t *testing.T) {
	// Stack every positive factor.
	in := healthyInputs()
	in.Device.BatteryCharging = true
	in.Network.Quality = 0.9
	in.Network.SpeedMbps = 50
	in.IdleDuration = time.Hour
	in.LocationOfflineRatio = 0.9
	in.Forecast = &collab.RiskForecast{Hour: 14, Confidence: 0.9, ValidUntil: testNow.Add(time.Hour)}
	if r := Compute(in); r.Value != 2.0 {
		t.Errorf("stacked positives = %v, want the 2.0 ceiling", r.Value)
	}

	// Stack every negative factor.
	in = healthyInputs()
	in.Device.BatteryLevel = 0.05
	in.StorageHeadroom = 0.01
	in.Network.Quality = 0.2
	if r := Compute(in); r.Value != 0.1 {
		t.Errorf("stacked negatives = %v, want the 0.1 floor", r.Value)
	}
}

func TestComputeBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("online aggressiveness stays within [0.1, 2.0]", prop.ForAll(
		func(base, battery, quality, speed, headroom, ratio float64, charging bool, idleMin int) bool {
			r := Compute(Inputs{
				Base: base,
				Now:  testNow,
				Device: model.DeviceSnapshot{
					BatteryLevel:    battery,
					BatteryCharging: charging,
				},
				Network: collab.NetworkStatus{
					Online:    true,
					Quality:   quality,
					SpeedMbps: speed,
				},
				StorageHeadroom:      headroom,
				IdleDuration:         time.Duration(idleMin) * time.Minute,
				LocationOfflineRatio: ratio,
			})
			return r.Value >= 0.1 && r.Value <= 2.0
		},
		gen.Float64Range(0, 3),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 1),
		gen.Float64Range(-1, 1),
		gen.Bool(),
		gen.IntRange(0, 600),
	))

	properties.TestingRun(t)
}
