// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ReloadFunc receives the freshly parsed configuration after the file
// on disk changes.
type ReloadFunc func(*Config)

// Watcher watches the configuration file and invokes a callback with
// the re-parsed config. Parse failures keep the previous config.
type Watcher struct {
	path     string
	onReload ReloadFunc

	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files via
	// rename, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fw,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	// Debounce: editors fire several events per save.
	var timer *time.Timer
	debounced := make(chan struct{}, 1)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("Config watcher error: %v", err)
		case <-debounced:
			cfg, err := Load(w.path)
			if err != nil {
				log.Errorf("Config reload failed, keeping previous config: %v", err)
				continue
			}
			log.Info("Configuration reloaded")
			w.onReload(cfg)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stop) })
	return w.watcher.Close()
}
