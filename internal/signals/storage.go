// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package signals

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
)

// StorageTracker polls the storage collaborator and remembers the last
// report plus any pushed pressure level.
type StorageTracker struct {
	mu sync.Mutex

	manager collab.StorageManager

	last      *collab.StorageInfo
	lastAt    time.Time
	pressure  collab.StorageLevel
	pressured time.Time
}

// NewStorageTracker creates a tracker over the storage collaborator
// and registers for its pressure events.
func NewStorageTracker(manager collab.StorageManager) *StorageTracker {
	t := &StorageTracker{manager: manager}
	if manager != nil {
		manager.AddListener(t.onPressure)
	}
	return t
}

func (t *StorageTracker) onPressure(level collab.StorageLevel) {
	t.mu.Lock()
	t.pressure = level
	t.pressured = time.Now()
	t.mu.Unlock()
	log.Warnf("Storage tracker: pressure event %q", level)
}

// Sample pulls storage info from the collaborator.
func (t *StorageTracker) Sample(ctx context.Context) {
	if t.manager == nil {
		return
	}
	info, err := t.manager.Info(ctx)
	if err != nil {
		log.Debugf("Storage tracker: info failed: %v", err)
		return
	}
	t.mu.Lock()
	t.last = info
	t.lastAt = time.Now()
	// A fresh report clears stale pressure once usage drops.
	if t.pressure != "" && info.UsagePercent < 0.85 {
		t.pressure = ""
	}
	t.mu.Unlock()
}

// Info returns the last storage report, or nil if none was ever
// collected.
func (t *StorageTracker) Info() *collab.StorageInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	cp := *t.last
	return &cp
}

// UnderPressure reports whether a low/critical event is outstanding.
func (t *StorageTracker) UnderPressure() (collab.StorageLevel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pressure, t.pressure != ""
}

// HeadroomFraction returns available/quota, defaulting to 1 when no
// report exists.
func (t *StorageTracker) HeadroomFraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil || t.last.QuotaBytes == 0 {
		return 1
	}
	return float64(t.last.AvailableBytes) / float64(t.last.QuotaBytes)
}
