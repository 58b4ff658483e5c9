// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine wires the predictive-caching pipeline together: usage
// logging feeds the persisted log, the aggregator rebuilds the learned
// model, the risk estimator and strategy controller tune prediction,
// and the preparation orchestrator warms the cache. One mutex
// serializes all model and session mutation; reads hand out snapshots.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/aggregate"
	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/collab/mlbridge"
	"github.com/medtranslate/edgecache/internal/collab/netmon"
	"github.com/medtranslate/edgecache/internal/config"
	"github.com/medtranslate/edgecache/internal/feedback"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/plugin"
	"github.com/medtranslate/edgecache/internal/predict"
	"github.com/medtranslate/edgecache/internal/prepare"
	"github.com/medtranslate/edgecache/internal/risk"
	"github.com/medtranslate/edgecache/internal/scheduler"
	"github.com/medtranslate/edgecache/internal/signals"
	"github.com/medtranslate/edgecache/internal/steering"
	"github.com/medtranslate/edgecache/internal/store"
	"github.com/medtranslate/edgecache/internal/terminology"
	"github.com/medtranslate/edgecache/internal/termsync"
	"github.com/medtranslate/edgecache/internal/translate"
)

// Options carries the collaborators. Nil fields fall back to no-op
// implementations so the engine always starts.
type Options struct {
	Config *config.Config

	Cache      collab.CacheManager
	Storage    collab.StorageManager
	Monitor    collab.NetworkMonitor
	Forecaster collab.Forecaster

	Battery  signals.BatterySampler
	Location signals.LocationSource
	Geocoder signals.ReverseGeocoder

	Clock scheduler.Clock
}

// Engine is the daemon's core.
type Engine struct {
	cfg *config.Config

	store        *store.Store
	aggregator   *aggregate.Aggregator
	predictor    *predict.Engine
	estimator    *risk.Estimator
	orchestrator *prepare.Orchestrator
	steerer      *steering.Evaluator
	recorder     *feedback.Recorder
	syncer       *termsync.Syncer
	catalog      *terminology.Catalog

	cache      collab.CacheManager
	storage    collab.StorageManager
	monitor    collab.NetworkMonitor
	forecaster collab.Forecaster

	device   *signals.DeviceTracker
	network  *signals.NetworkTracker
	location *signals.LocationTracker
	disk     *signals.StorageTracker

	sched *scheduler.Scheduler
	clock scheduler.Clock

	mu          sync.Mutex
	session     model.SessionState
	lastRisk    float64
	lastAggr    float64
	lastSummary *prepare.Summary
	preparing   bool

	unsubscribe func()
	initialized bool
}

// New assembles an engine from the options. Nothing touches disk or the
// network until Initialize.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}

	e := &Engine{
		cfg:        cfg,
		cache:      opts.Cache,
		storage:    opts.Storage,
		monitor:    opts.Monitor,
		forecaster: opts.Forecaster,
		clock:      opts.Clock,
	}
	if e.cache == nil {
		e.cache = collab.NoopCache{}
	}
	if e.storage == nil {
		e.storage = collab.NoopStorage{}
	}
	if e.clock == nil {
		e.clock = scheduler.RealClock()
	}

	if e.monitor == nil {
		if cfg.NetMonitor.WebsocketURL != "" {
			e.monitor = netmon.New(cfg.NetMonitor.WebsocketURL, cfg.NetMonitor.ReconnectInterval)
		} else {
			e.monitor = collab.NoopMonitor{}
		}
	}
	if e.forecaster == nil {
		if cfg.ML.Enabled {
			bridge, err := mlbridge.New(mlbridge.Config{
				ModelPath:         cfg.ML.ModelPath,
				SharedLibraryPath: cfg.ML.SharedLibraryPath,
				InitTimeout:       cfg.ML.InitTimeout,
				TrainTimeout:      cfg.ML.TrainTimeout,
			})
			if err != nil {
				log.Warnf("Engine: ML bridge unavailable: %v", err)
				e.forecaster = collab.NoopForecaster{}
			} else {
				e.forecaster = bridge
			}
		} else {
			e.forecaster = collab.NoopForecaster{}
		}
	}

	e.device = signals.NewDeviceTracker(opts.Battery)
	e.network = signals.NewNetworkTracker()
	e.location = signals.NewLocationTracker(opts.Location, opts.Geocoder)
	e.disk = signals.NewStorageTracker(e.storage)

	e.aggregator = aggregate.New(cfg.Engine.MinSamples, cfg.Engine.WeightSmoothing)
	e.estimator = risk.New(e.forecaster, e.network, e.location)
	e.steerer = steering.NewEvaluator(cfg.Steering.Rules)

	e.catalog = terminology.NewCatalog(e.resolvePath(cfg.TermSync.LocalDir))
	translator := translate.New(
		cfg.Translation.Endpoint,
		cfg.Translation.APIKey,
		time.Duration(cfg.Translation.TimeoutSeconds)*time.Second,
	)
	e.orchestrator = prepare.New(prepare.Config{
		BatchSize:        cfg.Prepare.BatchSize,
		BatchPause:       cfg.Prepare.BatchPause,
		MinCriticalItems: cfg.Prepare.MinCriticalItems,
	}, translator, e.cache, e.storage, e.catalog)

	e.predictor = predict.New()
	if err := e.loadStrategyPlugins(); err != nil {
		return nil, err
	}

	if cfg.TermSync.Endpoint != "" {
		syncer, err := termsync.New(termsync.Config{
			Endpoint:    cfg.TermSync.Endpoint,
			Bucket:      cfg.TermSync.Bucket,
			AccessKey:   cfg.TermSync.AccessKey,
			SecretKey:   cfg.TermSync.SecretKey,
			UseSSL:      cfg.TermSync.UseSSL,
			ManifestKey: cfg.TermSync.ManifestKey,
			LocalDir:    e.resolvePath(cfg.TermSync.LocalDir),
		}, e.catalog)
		if err != nil {
			log.Warnf("Engine: terminology sync unavailable: %v", err)
		} else {
			e.syncer = syncer
		}
	}

	recorder, err := feedback.NewRecorder(
		e.resolvePath(cfg.Prepare.FeedbackDB),
		cfg.Prepare.FeedbackRetentionDays,
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.recorder = recorder

	e.sched = scheduler.New(e.clock)
	return e, nil
}

func (e *Engine) loadStrategyPlugins() error {
	loc, err := plugin.LoadStrategy("location", e.cfg.Plugins.LocationStrategy)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	dev, err := plugin.LoadStrategy("device", e.cfg.Plugins.DeviceStrategy)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.predictor.LocationStrategy = loc.StrategyFunc()
	e.predictor.DeviceStrategy = dev.StrategyFunc()
	return nil
}

// resolvePath places a relative path under the data directory.
func (e *Engine) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.cfg.DataDir, p)
}

// Initialize opens persistence, seeds the signal trackers from the
// persisted model, connects the collaborators, and starts the periodic
// tasks. Collaborator failures degrade, never abort: a translation
// device must come up even when its ML runtime or network bridge is
// broken.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return fmt.Errorf("engine: already initialized")
	}

	st, err := store.Open(e.cfg.DataDir, e.cfg.Engine.MaxLogEntries, e.cfg.Engine.SaveEvery)
	if err != nil {
		return fmt.Errorf("engine: open store: %w", err)
	}
	e.store = st

	if m := st.Model(); m != nil {
		e.network.Seed(m)
		e.location.Seed(m)
	}

	if err := e.storage.Initialize(ctx); err != nil {
		log.Warnf("Engine: storage manager init failed: %v", err)
	}

	if err := e.recorder.Initialize(ctx); err != nil {
		log.Warnf("Engine: feedback recorder disabled: %v", err)
	}

	if e.cfg.ML.Enabled {
		if err := e.forecaster.Initialize(ctx); err != nil {
			log.Warnf("Engine: forecaster unavailable, staying rule-based: %v", err)
		}
	}

	if starter, ok := e.monitor.(interface{ Start(context.Context) error }); ok {
		if err := starter.Start(ctx); err != nil {
			log.Warnf("Engine: network monitor not started: %v", err)
		}
	}
	e.unsubscribe = e.monitor.Subscribe(e.handleNetworkEvent)

	e.registerTasks()
	if err := e.sched.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.initialized = true
	log.Infof("Engine initialized (log entries: %d, model samples: %d)",
		st.Len(), sampleCount(st.Model()))
	return nil
}

func (e *Engine) registerTasks() {
	e.sched.Add(scheduler.Task{
		Name:      "refresh",
		Interval:  e.cfg.Engine.RefreshInterval,
		Immediate: true,
		Run:       e.refreshTask,
	})
	e.sched.Add(scheduler.Task{
		Name:     "sync",
		Interval: e.cfg.Engine.SyncInterval,
		Run:      e.syncTask,
	})
	e.sched.Add(scheduler.Task{
		Name:     "device-sample",
		Interval: e.cfg.Engine.DeviceSampleInterval,
		Run:      e.deviceSampleTask,
	})
	e.sched.Add(scheduler.Task{
		Name:     "session-sample",
		Interval: e.cfg.Engine.SessionSampleInterval,
		Run:      e.sessionSampleTask,
	})
}

// ApplyConfig takes over the reloadable parts of a freshly parsed
// config. Structural settings (listen address, data dir, collaborators)
// keep their boot-time values until restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.steerer.SetRules(cfg.Steering.Rules)

	e.mu.Lock()
	e.cfg.Engine.BaseAggressiveness = cfg.Engine.BaseAggressiveness
	e.cfg.Engine.ScoreThreshold = cfg.Engine.ScoreThreshold
	e.cfg.Engine.PredictionLimit = cfg.Engine.PredictionLimit
	e.cfg.Debug = cfg.Debug
	e.mu.Unlock()
	log.Info("Engine: runtime configuration applied")
}

// Shutdown stops the background work and persists state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = false
	e.mu.Unlock()

	e.sched.Stop()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if stopper, ok := e.monitor.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	if closer, ok := e.forecaster.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := e.recorder.Shutdown(ctx); err != nil {
		log.Warnf("Engine: feedback recorder shutdown: %v", err)
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("engine: close store: %w", err)
	}
	log.Info("Engine shut down")
	return nil
}

func sampleCount(m *model.PredictionModel) int {
	if m == nil {
		return 0
	}
	return m.SampleCount
}
