// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package strategy computes the caching aggressiveness used to scale
// prediction thresholds and pre-fetch volume.
package strategy

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/util"
)

const (
	minAggressiveness = 0.1
	maxAggressiveness = 2.0
)

// Inputs bundles the live conditions the controller reacts to.
type Inputs struct {
	Base    float64
	Now     time.Time
	Device  model.DeviceSnapshot
	Network collab.NetworkStatus
	// StorageHeadroom is the fraction of cache space still free, 0-1.
	StorageHeadroom float64
	// IdleDuration is the time since the last user interaction.
	IdleDuration time.Duration
	// LocationOfflineRatio is the offline ratio at the current
	// location, or a negative value when unknown.
	LocationOfflineRatio float64
	// Forecast is the nearest predicted offline window, if any.
	Forecast *collab.RiskForecast
	// Model supplies learned hour-of-day offline history.
	Model *model.PredictionModel
}

// Adjustment records one multiplicative step for observability.
type Adjustment struct {
	Reason string
	Factor float64
}

// Result is the computed aggressiveness with its derivation.
type Result struct {
	Value       float64
	Adjustments []Adjustment
}

// Compute derives the aggressiveness value in [0.1, 2.0] from the base
// via a multiplicative chain of condition factors. A device that is
// currently offline zeroes the product before the clamp, so the result
// lands on the 0.1 floor rather than zero.
func Compute(in Inputs) Result {
	if !in.Network.Online {
		return Result{
			Value:       util.Clamp(0, minAggressiveness, maxAggressiveness),
			Adjustments: []Adjustment{{Reason: "offline", Factor: 0}},
		}
	}

	base := in.Base
	if base <= 0 {
		base = 1.0
	}
	r := Result{Value: base}
	apply := func(reason string, factor float64) {
		r.Value *= factor
		r.Adjustments = append(r.Adjustments, Adjustment{Reason: reason, Factor: factor})
		log.Debugf("Strategy controller: %s factor=%.2f value=%.3f", reason, factor, r.Value)
	}

	// Battery: charging removes the constraint entirely.
	if !in.Device.BatteryCharging {
		switch {
		case in.Device.BatteryLevel > 0 && in.Device.BatteryLevel < 0.15:
			apply("battery_critical", 0.3)
		case in.Device.BatteryLevel > 0 && in.Device.BatteryLevel < 0.3:
			apply("battery_low", 0.6)
		}
	} else if in.Device.BatteryLevel > 0 {
		apply("charging", 1.2)
	}

	// Storage headroom.
	switch {
	case in.StorageHeadroom < 0.05:
		apply("storage_critical", 0.2)
	case in.StorageHeadroom < 0.15:
		apply("storage_low", 0.5)
	}

	// Network class: a fast, clean link invites more warming; a poor
	// one makes each request expensive.
	switch {
	case in.Network.Quality >= 0.8 && in.Network.SpeedMbps >= 10:
		apply("network_fast", 1.3)
	case in.Network.Quality < 0.4:
		apply("network_poor", 0.7)
	}

	// Idle devices can afford background work.
	if in.IdleDuration >= 10*time.Minute {
		apply("device_idle", 1.2)
	}

	// Location with a history of going offline.
	if in.LocationOfflineRatio >= 0.3 {
		apply("location_offline_prone", 1.4)
	}

	// Hour of day with elevated historical offline share.
	if in.Model != nil {
		total := 0
		for _, n := range in.Model.Network.OfflineTimeOfDay {
			total += n
		}
		if total >= 3 {
			share := float64(in.Model.Network.OfflineTimeOfDay[in.Now.Hour()]) / float64(total)
			if share > 1.0/12 {
				apply("hour_offline_history", 1.3)
			}
		}
	}

	// Imminent forecast from the ML bridge.
	if in.Forecast != nil && in.Forecast.Confidence > 0.6 && in.Now.Before(in.Forecast.ValidUntil) {
		lead := (in.Forecast.Hour - in.Now.Hour() + 24) % 24
		if lead <= 2 {
			apply("forecast_imminent", 1.5)
		}
	}

	r.Value = util.Clamp(r.Value, minAggressiveness, maxAggressiveness)
	return r
}
