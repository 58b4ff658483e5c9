// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler runs the engine's named periodic tasks. The clock
// is injectable so tests can drive timer ticks deterministically.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Ticker abstracts time.Ticker for tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers and reports the current time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// realClock backs Clock with the runtime's timers.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// RealClock returns the wall-clock implementation.
func RealClock() Clock { return realClock{} }

// Task is one periodic job. Errors are logged, never fatal; a failing
// task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Immediate runs the task once at start before the first tick.
	Immediate bool
}

// Scheduler owns the background goroutines for a set of tasks.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler. A nil clock defaults to the real one.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{clock: clock}
}

// Add registers a task. Tasks with a non-positive interval are ignored,
// which is how individual loops are disabled from configuration.
func (s *Scheduler) Add(t Task) {
	if t.Interval <= 0 || t.Run == nil {
		log.Debugf("Scheduler: task %q disabled", t.Name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Start launches one goroutine per task.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	log.Infof("Scheduler started with %d tasks", len(s.tasks))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	run := func() {
		start := s.clock.Now()
		if err := t.Run(ctx); err != nil {
			log.Warnf("Scheduler: task %q failed: %v", t.Name, err)
			return
		}
		log.Debugf("Scheduler: task %q completed in %s", t.Name, s.clock.Now().Sub(start))
	}

	if t.Immediate {
		run()
	}

	ticker := s.clock.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			run()
		}
	}
}

// Stop cancels all task loops and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Info("Scheduler stopped")
}
