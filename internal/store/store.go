// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/model"
)

const currentSchemaVersion = model.SchemaVersion

const (
	usageArtifact = "usage_log"
	modelArtifact = "prediction_model"
)

// document is the persisted envelope shared by both artifacts.
type document struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	SavedAt time.Time       `json:"saved_at"`
	Payload json.RawMessage `json:"payload"`
}

// Store owns the durable usage log and prediction model. All mutation
// goes through it; reads hand out copies so callers can never alias the
// internal state.
type Store struct {
	mu sync.Mutex

	dataDir    string
	maxEntries int
	saveEvery  int

	compressed Backend
	plain      Backend

	entries []model.UsageLogEntry
	current *model.PredictionModel

	appendsSinceSave int
	saveFailures     int
	lastSave         time.Time
	lastSaveErr      string
}

// Open loads both artifacts from dataDir, preferring the compressed
// backend and falling back to the flat file. Any parse failure is
// logged and replaced by an empty default; Open never fails because of
// corrupt state.
func Open(dataDir string, maxEntries, saveEvery int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = model.MaxUsageLogEntries
	}
	if saveEvery <= 0 {
		saveEvery = 10
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create data dir: %w", err)
	}

	s := &Store{
		dataDir:    dataDir,
		maxEntries: maxEntries,
		saveEvery:  saveEvery,
		compressed: zstdBackend{},
		plain:      plainBackend{},
		current:    model.NewPredictionModel(),
	}

	s.loadUsageLog()
	s.loadModel()
	return s, nil
}

func (s *Store) artifactPath(name string, b Backend) string {
	return filepath.Join(s.dataDir, name+b.Ext())
}

// loadArtifact tries the compressed path then the flat file, returning
// the first readable document or nil.
func (s *Store) loadArtifact(name string) *document {
	for _, b := range []Backend{s.compressed, s.plain} {
		path := s.artifactPath(name, b)
		raw, err := b.Read(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("Store: unreadable %s at %s: %v", name, path, err)
			}
			continue
		}
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			log.Warnf("Store: corrupt %s document at %s, starting empty: %v", name, path, err)
			continue
		}
		if doc.Version <= 0 || doc.Version > currentSchemaVersion {
			log.Warnf("Store: %s has unsupported schema v%d, starting empty", name, doc.Version)
			continue
		}
		return &doc
	}
	return nil
}

func (s *Store) loadUsageLog() {
	doc := s.loadArtifact(usageArtifact)
	if doc == nil {
		s.entries = nil
		return
	}

	payload := []byte(doc.Payload)
	if doc.Version < currentSchemaVersion {
		migrated, err := migrateUsagePayload(payload, doc.Version)
		if err != nil {
			log.Warnf("Store: usage log migration failed, starting empty: %v", err)
			return
		}
		payload = migrated
		log.Infof("Store: migrated usage log schema v%d -> v%d", doc.Version, currentSchemaVersion)
	}

	var entries []model.UsageLogEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		log.Warnf("Store: corrupt usage log payload, starting empty: %v", err)
		return
	}
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.entries = entries
	log.Infof("Store: loaded %d usage log entries", len(entries))
}

func (s *Store) loadModel() {
	doc := s.loadArtifact(modelArtifact)
	if doc == nil {
		return
	}

	payload := []byte(doc.Payload)
	if doc.Version < currentSchemaVersion {
		migrated, err := migrateModelPayload(payload, doc.Version)
		if err != nil {
			log.Warnf("Store: model migration failed, starting empty: %v", err)
			return
		}
		payload = migrated
		log.Infof("Store: migrated prediction model schema v%d -> v%d", doc.Version, currentSchemaVersion)
	}

	m := model.NewPredictionModel()
	if err := json.Unmarshal(payload, m); err != nil {
		log.Warnf("Store: corrupt model payload, starting empty: %v", err)
		return
	}
	m.SchemaVersion = currentSchemaVersion
	s.current = m
	log.Infof("Store: loaded prediction model (%d samples, updated %s)", m.SampleCount, m.UpdatedAt.Format(time.RFC3339))
}

// Append adds a usage entry, evicting the oldest once the cap is
// reached, and triggers an asynchronous save on every Nth append so
// the caller never blocks on disk.
func (s *Store) Append(entry model.UsageLogEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	s.appendsSinceSave++
	shouldSave := s.appendsSinceSave >= s.saveEvery
	if shouldSave {
		s.appendsSinceSave = 0
	}
	s.mu.Unlock()

	if shouldSave {
		go func() {
			if err := s.Save(); err != nil {
				log.Errorf("Store: periodic save failed: %v", err)
			}
		}()
	}
}

// UsageLog returns a copy of the current usage log, oldest first.
func (s *Store) UsageLog() []model.UsageLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.UsageLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of usage entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Model returns the current prediction model. The returned value must
// be treated as immutable; publish changes via SetModel.
func (s *Store) Model() *model.PredictionModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetModel publishes a freshly rebuilt model.
func (s *Store) SetModel(m *model.PredictionModel) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.current = m
	s.mu.Unlock()
}

// Save writes full snapshots of both artifacts. It is idempotent and
// safe to call concurrently: each call serializes the state as of its
// own snapshot and the rename-swap write keeps files consistent.
func (s *Store) Save() error {
	s.mu.Lock()
	entries := make([]model.UsageLogEntry, len(s.entries))
	copy(entries, s.entries)
	current := s.current
	s.mu.Unlock()

	var firstErr error
	if err := s.saveArtifact(usageArtifact, entries); err != nil {
		firstErr = err
	}
	if err := s.saveArtifact(modelArtifact, current); err != nil && firstErr == nil {
		firstErr = err
	}

	s.mu.Lock()
	if firstErr != nil {
		s.saveFailures++
		s.lastSaveErr = firstErr.Error()
	} else {
		s.lastSave = time.Now()
		s.lastSaveErr = ""
	}
	s.mu.Unlock()
	return firstErr
}

func (s *Store) saveArtifact(name string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: failed to marshal %s: %w", name, err)
	}
	doc, err := json.Marshal(document{
		Version: currentSchemaVersion,
		Kind:    name,
		SavedAt: time.Now(),
		Payload: raw,
	})
	if err != nil {
		return fmt.Errorf("store: failed to marshal %s document: %w", name, err)
	}

	// Compressed first; keep the flat file as the readable fallback
	// only when compression fails.
	if err := s.compressed.Write(s.artifactPath(name, s.compressed), doc); err != nil {
		log.Warnf("Store: compressed save of %s failed, falling back to flat file: %v", name, err)
		if err := s.plain.Write(s.artifactPath(name, s.plain), doc); err != nil {
			return fmt.Errorf("store: failed to persist %s: %w", name, err)
		}
	}
	return nil
}

// Health reports persistence health for the status API.
type Health struct {
	Entries      int       `json:"entries"`
	LastSave     time.Time `json:"last_save,omitempty"`
	SaveFailures int       `json:"save_failures"`
	LastSaveErr  string    `json:"last_save_error,omitempty"`
}

// Health returns a snapshot of persistence health.
func (s *Store) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		Entries:      len(s.entries),
		LastSave:     s.lastSave,
		SaveFailures: s.saveFailures,
		LastSaveErr:  s.lastSaveErr,
	}
}

// Close performs a final synchronous save.
func (s *Store) Close() error {
	return s.Save()
}
