// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
)

// handleNetworkEvent reacts to pushed connectivity changes. The monitor
// may redeliver state; everything here is idempotent.
func (e *Engine) handleNetworkEvent(ev collab.Event) {
	wasOnline := e.network.Online()
	e.network.Handle(ev)

	s := ev.Status
	e.device.SetNetwork(s.SpeedMbps, s.LatencyMs, s.PacketLoss, s.Quality)
	e.location.RecordQuality(s.Quality)

	switch ev.Type {
	case collab.EventOffline:
		e.mu.Lock()
		if !e.session.Offline {
			e.session.Offline = true
			e.session.OfflineSince = ev.Timestamp
			e.session.OfflineCount++
		}
		e.mu.Unlock()
		log.Infof("Engine: device went offline at %s", ev.Timestamp.Format("15:04:05"))

	case collab.EventOnline:
		e.mu.Lock()
		reconnected := e.session.Offline
		e.session.Offline = false
		e.session.LastSync = ev.Timestamp
		e.session.PendingSync = 0
		e.mu.Unlock()
		if reconnected || !wasOnline {
			log.Info("Engine: connectivity restored, warming cache")
			e.prepareAsync("reconnect")
		}

	case collab.EventQualityChange:
		// A degrading link with elevated learned risk is the last
		// chance to warm the cache before the connection dies.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		riskScore := e.OfflineRisk(ctx)
		cancel()
		if s.Online && riskScore > prepareRiskThreshold {
			e.prepareAsync("quality-drop")
		}
	}
}

// modelSessionReset returns a fresh empty session carrying over only
// the connectivity flag.
func modelSessionReset(offline bool) model.SessionState {
	return model.SessionState{Offline: offline}
}
