// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package model defines the learned usage model and the usage-log entry
// types shared by the aggregator, the prediction engine, and the store.
// The model is rebuilt wholesale on every aggregation pass; nothing in
// this package mutates an existing model incrementally.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SchemaVersion is the current on-disk schema version for persisted
// model and usage-log documents. Bump it whenever a persisted field
// changes shape; store.migrate must then handle the transition.
const SchemaVersion = 3

const (
	// MaxUsageLogEntries caps the usage log; the oldest entries are
	// evicted ring-buffer style once the cap is reached.
	MaxUsageLogEntries = 1000

	// MaxOfflineDurations caps the rolling offline-duration window.
	MaxOfflineDurations = 20

	// MaxQualitySamples caps recent connection-quality samples.
	MaxQualitySamples = 50

	// MaxDwellSamples caps per-location dwell-time history.
	MaxDwellSamples = 10

	// MaxTrackedLocations caps the visited-location map.
	MaxTrackedLocations = 10

	// MaxCommonSequences caps the tracked 3-step context sequences.
	MaxCommonSequences = 10
)

// DeviceSnapshot captures device and network conditions at the moment a
// translation was observed.
type DeviceSnapshot struct {
	BatteryLevel     float64 `json:"battery_level"` // 0.0-1.0
	BatteryCharging  bool    `json:"battery_charging"`
	NetworkSpeedMbps float64 `json:"network_speed_mbps"`
	LatencyMs        float64 `json:"latency_ms"`
	PacketLoss       float64 `json:"packet_loss"` // 0.0-1.0
	NetworkQuality   float64 `json:"network_quality"`
}

// LocationSnapshot is a coarse position fix plus its reverse-geocoded
// name, when one is known.
type LocationSnapshot struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// UsageLogEntry is one observed translation event. Raw text is never
// stored; only its length and a short content hash.
type UsageLogEntry struct {
	Timestamp      time.Time         `json:"timestamp"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	Context        string            `json:"context"`
	TextLength     int               `json:"text_length"`
	ContentHash    string            `json:"content_hash"`
	Terms          []string          `json:"terms,omitempty"`
	Confidence     float64           `json:"confidence"`
	ProcessingMs   int64             `json:"processing_ms"`
	SessionID      string            `json:"session_id"`
	Online         bool              `json:"online"`
	Device         DeviceSnapshot    `json:"device"`
	Location       *LocationSnapshot `json:"location,omitempty"`
}

// HashContent returns the short content hash stored in place of raw
// text: the first 16 hex characters of sha256(text).
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// PairKey builds the canonical map key for a language pair.
func PairKey(source, target string) string {
	return source + "->" + target
}

// SequenceKey builds the canonical key for a pair-to-pair transition.
func SequenceKey(from, to string) string {
	return from + "=>" + to
}

// PairStats holds the learned statistics for one language pair.
type PairStats struct {
	Count         int                `json:"count"`
	LastUsed      time.Time          `json:"last_used"`
	RecencyScore  float64            `json:"recency_score"`
	Contexts      map[string]float64 `json:"contexts"` // context -> probability, sums to <=1
	TimeScore     float64            `json:"time_score"`
	CombinedScore float64            `json:"combined_score"`
}

// ContextStats holds usage statistics for one medical context.
type ContextStats struct {
	Count              int         `json:"count"`
	HourlyDistribution [24]float64 `json:"hourly_distribution"`
}

// TermStats tracks where and when a medical term shows up.
type TermStats struct {
	Count              int            `json:"count"`
	LanguagePairs      map[string]int `json:"language_pairs"`
	Contexts           map[string]int `json:"contexts"`
	HourlyDistribution [24]float64    `json:"hourly_distribution"`
}

// SequenceStats tracks one observed pair-to-pair transition.
type SequenceStats struct {
	Count              int         `json:"count"`
	HourlyDistribution [24]float64 `json:"hourly_distribution"`
	Probability        float64     `json:"probability"`
}

// TimePatterns holds the global time-of-day and day-of-week histograms
// plus per-slot language-pair histograms. All float fields are
// normalized on rebuild.
type TimePatterns struct {
	HourlyUsage [24]float64           `json:"hourly_usage"`
	DailyUsage  [7]float64            `json:"daily_usage"`
	PairsByHour [24]map[string]float64 `json:"pairs_by_hour"`
	PairsByDay  [7]map[string]float64  `json:"pairs_by_day"`
}

// ContextSequence is a 3-step context sequence observed inside one
// session, with its occurrence count.
type ContextSequence struct {
	Steps [3]string `json:"steps"`
	Count int       `json:"count"`
}

// UserPatterns captures session-level behavior.
type UserPatterns struct {
	SessionDurationEMA float64                       `json:"session_duration_ema"` // minutes
	AvgItemsPerSession float64                       `json:"avg_items_per_session"`
	CommonSequences    []ContextSequence             `json:"common_sequences"` // top MaxCommonSequences by count
	ContextTransitions map[string]map[string]float64 `json:"context_transitions"`
}

// QualitySample is a timestamped connection-quality observation.
type QualitySample struct {
	Timestamp time.Time `json:"timestamp"`
	Quality   float64   `json:"quality"` // 0.0-1.0
}

// OfflineWindow is a forecasted period of expected disconnection.
type OfflineWindow struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"` // "monitor", "ml"
}

// NetworkPatterns holds the learned offline/connectivity history.
type NetworkPatterns struct {
	OfflineFrequency   float64         `json:"offline_frequency"` // fraction of observed events offline
	OfflineDurations   []float64       `json:"offline_durations"` // minutes, newest last, cap MaxOfflineDurations
	OfflineTimeOfDay   [24]int         `json:"offline_time_of_day"`
	WeeklyOffline      [7]int          `json:"weekly_offline"`
	RecentQuality      []QualitySample `json:"recent_quality"` // cap MaxQualitySamples
	ForecastedOffline  []OfflineWindow `json:"forecasted_offline"`
}

// LocationVisit aggregates everything learned about one named location.
type LocationVisit struct {
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	VisitCount   int       `json:"visit_count"`
	OnlineCount  int       `json:"online_count"`
	OfflineCount int       `json:"offline_count"`
	RecentQuality []float64 `json:"recent_quality,omitempty"`
	DwellMinutes []float64 `json:"dwell_minutes,omitempty"` // cap MaxDwellSamples
	LastVisit    time.Time `json:"last_visit"`
}

// LocationPatterns tracks the top visited locations and transitions
// between them.
type LocationPatterns struct {
	Visits      map[string]*LocationVisit `json:"visits"` // cap MaxTrackedLocations by visit count
	Transitions map[string]map[string]int `json:"transitions"`
}

// ScoreWeights are the adaptive weights blended into CombinedScore.
type ScoreWeights struct {
	Time      float64 `json:"time"`
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Context   float64 `json:"context"`
	Location  float64 `json:"location"`
}

// DefaultScoreWeights returns the starting adaptive weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Time: 0.2, Recency: 0.3, Frequency: 0.3, Context: 0.1, Location: 0.1}
}

// AdaptiveThresholds carries the tunables updated by the learning loop.
type AdaptiveThresholds struct {
	Weights              ScoreWeights `json:"weights"`
	CacheAggressiveness  float64      `json:"cache_aggressiveness"`
	CompressionThreshold int          `json:"compression_threshold"` // bytes
}

// ContentPatterns holds auxiliary content statistics.
type ContentPatterns struct {
	TermCooccurrence map[string]map[string]int `json:"term_cooccurrence"`
	AvgTextLength    float64                   `json:"avg_text_length"`
	ComplexityBuckets map[string]int           `json:"complexity_buckets"` // "simple"/"moderate"/"complex"
}

// DischargeSample is one battery discharge-rate observation.
type DischargeSample struct {
	Timestamp   time.Time `json:"timestamp"`
	RatePerHour float64   `json:"rate_per_hour"` // fraction of full charge per hour
}

// DevicePatterns holds device-side aggregates republished by the
// signal trackers.
type DevicePatterns struct {
	DischargeRatePerHour float64           `json:"discharge_rate_per_hour"`
	DischargeHistory     []DischargeSample `json:"discharge_history,omitempty"`
	AvgIdleMinutes       float64           `json:"avg_idle_minutes"`
}

// PredictionModel is the full learned state. It is rebuilt wholesale by
// the aggregator; consumers must treat a model value as immutable once
// published.
type PredictionModel struct {
	SchemaVersion int       `json:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at"`
	SampleCount   int       `json:"sample_count"`

	LanguagePairs map[string]*PairStats     `json:"language_pairs"`
	Contexts      map[string]*ContextStats  `json:"contexts"`
	Terms         map[string]*TermStats     `json:"terms"`
	Sequences     map[string]*SequenceStats `json:"sequences"`

	Time     TimePatterns     `json:"time_patterns"`
	User     UserPatterns     `json:"user_patterns"`
	Network  NetworkPatterns  `json:"network_patterns"`
	Location LocationPatterns `json:"location_patterns"`
	Adaptive AdaptiveThresholds `json:"adaptive_thresholds"`
	Content  ContentPatterns  `json:"content_patterns"`
	Device   DevicePatterns   `json:"device_patterns"`
}

// NewPredictionModel returns an empty model with all maps allocated and
// adaptive thresholds at their defaults.
func NewPredictionModel() *PredictionModel {
	m := &PredictionModel{
		SchemaVersion: SchemaVersion,
		LanguagePairs: make(map[string]*PairStats),
		Contexts:      make(map[string]*ContextStats),
		Terms:         make(map[string]*TermStats),
		Sequences:     make(map[string]*SequenceStats),
		Adaptive: AdaptiveThresholds{
			Weights:              DefaultScoreWeights(),
			CacheAggressiveness:  0.5,
			CompressionThreshold: 1024,
		},
	}
	m.User.ContextTransitions = make(map[string]map[string]float64)
	m.Location.Visits = make(map[string]*LocationVisit)
	m.Location.Transitions = make(map[string]map[string]int)
	m.Content.TermCooccurrence = make(map[string]map[string]int)
	m.Content.ComplexityBuckets = make(map[string]int)
	return m
}

// TopPairsByCombinedScore returns up to n pair keys ordered by
// descending combined score.
func (m *PredictionModel) TopPairsByCombinedScore(n int) []string {
	type ranked struct {
		key   string
		score float64
	}
	out := make([]ranked, 0, len(m.LanguagePairs))
	for k, p := range m.LanguagePairs {
		out = append(out, ranked{k, p.CombinedScore})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if n > len(out) {
		n = len(out)
	}
	keys := make([]string, 0, n)
	for _, r := range out[:n] {
		keys = append(keys, r.key)
	}
	return keys
}

// SplitPairKey splits a canonical pair key back into source and target
// languages. Returns an error for malformed keys.
func SplitPairKey(key string) (source, target string, err error) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '-' && key[i+1] == '>' {
			return key[:i], key[i+2:], nil
		}
	}
	return "", "", fmt.Errorf("malformed pair key %q", key)
}
