// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package feedback records preparation outcomes so prediction accuracy
// can be measured: which warmed entries were later actually used while
// offline, per strategy reason.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Outcome is one recorded preparation outcome.
type Outcome struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	CacheKey     string         `json:"cache_key"`
	Pair         string         `json:"pair"`
	Context      string         `json:"context"`
	Tier         string         `json:"tier"`
	Reason       string         `json:"reason"`
	Score        float64        `json:"score"`
	Cached       bool           `json:"cached"`
	UsedOffline  bool           `json:"used_offline"`
	LatencyMs    int64          `json:"latency_ms"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Recorder stores outcomes in a local SQLite database.
type Recorder struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	enabled       bool
	mu            sync.RWMutex
}

// NewRecorder creates a recorder. Initialize must be called before use.
func NewRecorder(dbPath string, retentionDays int) (*Recorder, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Recorder{dbPath: dbPath, retentionDays: retentionDays}, nil
}

// Initialize opens the database and creates the schema.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", r.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		cache_key TEXT NOT NULL,
		pair TEXT NOT NULL,
		context TEXT NOT NULL,
		tier TEXT NOT NULL,
		reason TEXT NOT NULL,
		score REAL,
		cached INTEGER NOT NULL DEFAULT 0,
		used_offline INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL,
		error_message TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_timestamp ON outcomes(timestamp);
	CREATE INDEX IF NOT EXISTS idx_outcomes_cache_key ON outcomes(cache_key);
	CREATE INDEX IF NOT EXISTS idx_outcomes_reason ON outcomes(reason);
	CREATE INDEX IF NOT EXISTS idx_outcomes_created_at ON outcomes(created_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	r.db = db
	r.enabled = true
	log.Infof("Feedback recorder initialized (db: %s, retention: %d days)", r.dbPath, r.retentionDays)

	go r.cleanupOldRecords(context.Background())
	return nil
}

// IsEnabled reports whether the recorder is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Record stores one outcome.
func (r *Recorder) Record(ctx context.Context, o *Outcome) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return fmt.Errorf("feedback recorder not enabled")
	}
	if o == nil {
		return fmt.Errorf("outcome cannot be nil")
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	var metadataJSON []byte
	if o.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(o.Metadata)
		if err != nil {
			log.Warnf("Failed to marshal outcome metadata: %v", err)
			metadataJSON = []byte("{}")
		}
	}

	query := `
	INSERT INTO outcomes (
		timestamp, cache_key, pair, context, tier, reason,
		score, cached, used_offline, latency_ms, error_message, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		o.Timestamp,
		o.CacheKey,
		o.Pair,
		o.Context,
		o.Tier,
		o.Reason,
		o.Score,
		boolToInt(o.Cached),
		boolToInt(o.UsedOffline),
		o.LatencyMs,
		o.ErrorMessage,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		o.ID = id
	}
	return nil
}

// MarkUsed flags a warmed entry as used while offline, the signal the
// whole pipeline exists to maximize.
func (r *Recorder) MarkUsed(ctx context.Context, cacheKey string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return fmt.Errorf("feedback recorder not enabled")
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE outcomes SET used_offline = 1 WHERE cache_key = ?", cacheKey)
	if err != nil {
		return fmt.Errorf("failed to mark outcome used: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent outcomes.
func (r *Recorder) GetRecent(ctx context.Context, limit int) ([]*Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return nil, fmt.Errorf("feedback recorder not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT id, timestamp, cache_key, pair, context, tier, reason,
	       score, cached, used_offline, latency_ms, error_message, metadata
	FROM outcomes
	ORDER BY timestamp DESC
	LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			log.Warnf("Failed to scan outcome: %v", err)
			continue
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}

// GetStats returns aggregate accuracy statistics.
func (r *Recorder) GetStats(ctx context.Context) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return nil, fmt.Errorf("feedback recorder not enabled")
	}

	stats := make(map[string]any)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes").Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}
	stats["total_records"] = total

	var cached int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes WHERE cached = 1").Scan(&cached); err != nil {
		return nil, fmt.Errorf("failed to get cached count: %w", err)
	}
	if total > 0 {
		stats["cache_rate"] = float64(cached) / float64(total)
	} else {
		stats["cache_rate"] = 0.0
	}

	var used int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes WHERE used_offline = 1").Scan(&used); err != nil {
		return nil, fmt.Errorf("failed to get used count: %w", err)
	}
	if cached > 0 {
		stats["hit_rate"] = float64(used) / float64(cached)
	} else {
		stats["hit_rate"] = 0.0
	}

	// Accuracy per strategy reason.
	reasonQuery := `
	SELECT reason, COUNT(*) as total, SUM(used_offline) as used
	FROM outcomes
	WHERE cached = 1
	GROUP BY reason
	`
	rows, err := r.db.QueryContext(ctx, reasonQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to get reason accuracy: %w", err)
	}
	defer rows.Close()

	byReason := make(map[string]float64)
	for rows.Next() {
		var reason string
		var rTotal, rUsed int64
		if err := rows.Scan(&reason, &rTotal, &rUsed); err != nil {
			continue
		}
		if rTotal > 0 {
			byReason[reason] = float64(rUsed) / float64(rTotal)
		}
	}
	stats["hit_rate_by_reason"] = byReason

	var avgLatency sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, "SELECT AVG(latency_ms) FROM outcomes WHERE cached = 1").Scan(&avgLatency); err != nil {
		return nil, fmt.Errorf("failed to get average latency: %w", err)
	}
	stats["avg_latency_ms"] = avgLatency.Float64

	return stats, nil
}

// cleanupOldRecords removes records past the retention window.
// NOTE: must be called without holding the lock.
func (r *Recorder) cleanupOldRecords(ctx context.Context) {
	if !r.IsEnabled() {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -r.retentionDays)
	result, err := r.db.ExecContext(ctx, "DELETE FROM outcomes WHERE created_at < ?", cutoff)
	if err != nil {
		log.Warnf("Failed to cleanup old outcomes: %v", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Infof("Cleaned up %d old outcomes (older than %d days)", n, r.retentionDays)
	}
}

// Shutdown runs a final cleanup and closes the database.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.IsEnabled() {
		r.cleanupOldRecords(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	r.enabled = false
	log.Info("Feedback recorder shut down")
	return nil
}

func scanOutcome(rows *sql.Rows) (*Outcome, error) {
	var o Outcome
	var cachedInt, usedInt int
	var metadataJSON sql.NullString

	err := rows.Scan(
		&o.ID,
		&o.Timestamp,
		&o.CacheKey,
		&o.Pair,
		&o.Context,
		&o.Tier,
		&o.Reason,
		&o.Score,
		&cachedInt,
		&usedInt,
		&o.LatencyMs,
		&o.ErrorMessage,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}
	o.Cached = cachedInt == 1
	o.UsedOffline = usedInt == 1

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &o.Metadata); err != nil {
			log.Warnf("Failed to unmarshal outcome metadata: %v", err)
		}
	}
	return &o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
