// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Schema history:
//
//	v1: language pairs, contexts, terms, sequences, time patterns.
//	v2: adds network_patterns (offline histograms) and
//	    location_patterns; usage entries gain the "online" flag.
//	v3: adds adaptive_thresholds, content_patterns, device_patterns.
//
// Migration is structural only: existing counts are preserved and new
// fields get safe defaults (zeroed fixed-size arrays, empty maps).

func zeroArray(n int) []interface{} {
	arr := make([]interface{}, n)
	for i := range arr {
		arr[i] = 0
	}
	return arr
}

// migrateModelPayload upgrades a raw model payload from the given
// version to the current schema.
func migrateModelPayload(raw []byte, from int) ([]byte, error) {
	var err error
	for v := from; v < currentSchemaVersion; v++ {
		switch v {
		case 1:
			raw, err = migrateModelV1toV2(raw)
		case 2:
			raw, err = migrateModelV2toV3(raw)
		default:
			return nil, fmt.Errorf("store: no migration path from model schema v%d", v)
		}
		if err != nil {
			return nil, fmt.Errorf("store: model migration v%d->v%d failed: %w", v, v+1, err)
		}
	}
	return raw, nil
}

func migrateModelV1toV2(raw []byte) ([]byte, error) {
	var err error
	if !gjson.GetBytes(raw, "network_patterns").Exists() {
		raw, err = sjson.SetBytes(raw, "network_patterns", map[string]interface{}{
			"offline_frequency":   0,
			"offline_durations":   []interface{}{},
			"offline_time_of_day": zeroArray(24),
			"weekly_offline":      zeroArray(7),
			"recent_quality":      []interface{}{},
			"forecasted_offline":  []interface{}{},
		})
		if err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(raw, "location_patterns").Exists() {
		raw, err = sjson.SetBytes(raw, "location_patterns", map[string]interface{}{
			"visits":      map[string]interface{}{},
			"transitions": map[string]interface{}{},
		})
		if err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(raw, "schema_version", 2)
}

func migrateModelV2toV3(raw []byte) ([]byte, error) {
	var err error
	if !gjson.GetBytes(raw, "adaptive_thresholds").Exists() {
		raw, err = sjson.SetBytes(raw, "adaptive_thresholds", map[string]interface{}{
			"weights": map[string]interface{}{
				"time": 0.2, "recency": 0.3, "frequency": 0.3, "context": 0.1, "location": 0.1,
			},
			"cache_aggressiveness":  0.5,
			"compression_threshold": 1024,
		})
		if err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(raw, "content_patterns").Exists() {
		raw, err = sjson.SetBytes(raw, "content_patterns", map[string]interface{}{
			"term_cooccurrence":  map[string]interface{}{},
			"avg_text_length":    0,
			"complexity_buckets": map[string]interface{}{},
		})
		if err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(raw, "device_patterns").Exists() {
		raw, err = sjson.SetBytes(raw, "device_patterns", map[string]interface{}{
			"discharge_rate_per_hour": 0,
			"avg_idle_minutes":        0,
		})
		if err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(raw, "schema_version", 3)
}

// migrateUsagePayload upgrades a raw usage-log payload (a JSON array of
// entries) from the given version to the current schema.
func migrateUsagePayload(raw []byte, from int) ([]byte, error) {
	var err error
	for v := from; v < currentSchemaVersion; v++ {
		switch v {
		case 1:
			raw, err = migrateUsageV1toV2(raw)
		case 2:
			// v2 -> v3 changed only the model document.
		default:
			return nil, fmt.Errorf("store: no migration path from usage schema v%d", v)
		}
		if err != nil {
			return nil, fmt.Errorf("store: usage migration v%d->v%d failed: %w", v, v+1, err)
		}
	}
	return raw, nil
}

func migrateUsageV1toV2(raw []byte) ([]byte, error) {
	// v1 entries predate offline capture; assume they were online.
	entries := gjson.ParseBytes(raw).Array()
	var err error
	for i, e := range entries {
		if !e.Get("online").Exists() {
			raw, err = sjson.SetBytes(raw, fmt.Sprintf("%d.online", i), true)
			if err != nil {
				return nil, err
			}
		}
	}
	return raw, nil
}
