// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package model

import "time"

// SessionGap is the inactivity gap that closes a session. The same gate
// is used when the aggregator reconstructs sessions from the usage log.
const SessionGap = 30 * time.Minute

// SessionState is the ephemeral, in-memory state of the active
// translation session. It has process lifetime only and is never
// persisted.
type SessionState struct {
	SessionID      string    `json:"session_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	ItemCount      int       `json:"item_count"`
	Context        string    `json:"context"`
	LanguagePair   string    `json:"language_pair"`
	RecentContexts []string  `json:"recent_contexts"` // newest last, bounded by caller

	Offline      bool      `json:"offline"`
	OfflineSince time.Time `json:"offline_since,omitempty"`
	OfflineCount int       `json:"offline_count"`
	PendingSync  int       `json:"pending_sync"`
	LastSync     time.Time `json:"last_sync,omitempty"`
}

// Expired reports whether the session has been idle past the gap.
func (s *SessionState) Expired(now time.Time) bool {
	return s.StartedAt.IsZero() || now.Sub(s.LastActivity) > SessionGap
}

// DevicePerformanceState is the latest sampled device condition plus a
// bounded sample history. Ephemeral.
type DevicePerformanceState struct {
	Current   DeviceSnapshot   `json:"current"`
	History   []DeviceSnapshot `json:"history"` // cap 100, newest last
	IdleSince time.Time        `json:"idle_since"`
}

// LocationState is the latest position fix plus a bounded history.
// Ephemeral.
type LocationState struct {
	Current   *LocationSnapshot  `json:"current,omitempty"`
	ArrivedAt time.Time          `json:"arrived_at"`
	History   []LocationSnapshot `json:"history"` // cap 100, newest last
}
