// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/model"
)

// maxRecentContexts bounds the session's context history.
const maxRecentContexts = 10

// UsageInput is one observed translation. Text is consumed for length,
// hash, and term extraction, then dropped; it is never persisted.
type UsageInput struct {
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
	Context        string  `json:"context"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ProcessingMs   int64   `json:"processing_ms"`
	// CacheHit marks a translation served from the local cache.
	CacheHit bool `json:"cache_hit"`
}

// LogTranslationUsage records one translation event: it maintains the
// session, appends to the usage log, and feeds the offline hit signal
// back to the outcome recorder.
func (e *Engine) LogTranslationUsage(ctx context.Context, in UsageInput) error {
	if in.SourceLanguage == "" || in.TargetLanguage == "" {
		return fmt.Errorf("engine: usage requires a language pair")
	}
	if in.Context == "" {
		in.Context = "general"
	}
	now := e.clock.Now()

	e.device.MarkActivity()
	online := e.network.Online()
	snapshot := e.device.Snapshot()
	fix := e.location.Current()

	terms := e.catalog.ExtractTerms(in.Text, in.SourceLanguage, in.TargetLanguage)

	e.mu.Lock()
	e.touchSessionLocked(in, now)
	sessionID := e.session.SessionID
	e.mu.Unlock()

	entry := model.UsageLogEntry{
		Timestamp:      now,
		SourceLanguage: in.SourceLanguage,
		TargetLanguage: in.TargetLanguage,
		Context:        in.Context,
		TextLength:     len(in.Text),
		ContentHash:    model.HashContent(in.Text),
		Terms:          terms,
		Confidence:     in.Confidence,
		ProcessingMs:   in.ProcessingMs,
		SessionID:      sessionID,
		Online:         online,
		Device:         snapshot,
		Location:       fix,
	}
	e.store.Append(entry)

	// A cache hit while offline is a successful prediction.
	if in.CacheHit && !online && e.recorder.IsEnabled() {
		key := fmt.Sprintf("translation:%s:%s:%s:%s",
			in.SourceLanguage, in.TargetLanguage, in.Context, entry.ContentHash)
		if err := e.recorder.MarkUsed(ctx, key); err != nil {
			log.Debugf("Engine: mark outcome used: %v", err)
		}
	}
	return nil
}

// touchSessionLocked rolls the session over after the inactivity gap
// and tracks the active pair and context history.
func (e *Engine) touchSessionLocked(in UsageInput, now time.Time) {
	if e.session.Expired(now) {
		e.session = model.SessionState{
			SessionID: uuid.NewString(),
			StartedAt: now,
			Offline:   e.session.Offline,
		}
		log.Debugf("Engine: new session %s", e.session.SessionID)
	}
	e.session.LastActivity = now
	e.session.ItemCount++
	e.session.LanguagePair = model.PairKey(in.SourceLanguage, in.TargetLanguage)
	if e.session.Context != in.Context {
		e.session.Context = in.Context
		e.session.RecentContexts = append(e.session.RecentContexts, in.Context)
		if len(e.session.RecentContexts) > maxRecentContexts {
			e.session.RecentContexts = e.session.RecentContexts[len(e.session.RecentContexts)-maxRecentContexts:]
		}
	}
	if !e.network.Online() {
		e.session.PendingSync++
	}
}

// Session returns a copy of the live session state.
func (e *Engine) Session() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	s.RecentContexts = append([]string(nil), e.session.RecentContexts...)
	return s
}
