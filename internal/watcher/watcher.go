// Package watcher watches the configuration file and triggers hot reloads.
// Events are debounced and a content hash guards against editor noise.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/satquery/satquery/internal/config"
	"github.com/satquery/satquery/internal/util"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher manages file watching for the configuration file.
type Watcher struct {
	configPath        string
	reloadCallback    func(*config.Config)
	watcher           *fsnotify.Watcher
	stateMutex        sync.RWMutex
	config            *config.Config
	lastConfigHash    string
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
}

// NewWatcher creates a new file watcher instance. The callback is invoked
// with the freshly loaded configuration after every successful reload.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}, nil
}

// SetConfig records the currently active configuration and its content hash
// so unchanged rewrites can be skipped.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()
	w.config = cfg
	if data, err := os.ReadFile(w.configPath); err == nil && len(data) > 0 {
		sum := sha256.Sum256(data)
		w.lastConfigHash = hex.EncodeToString(sum[:])
	}
}

// Start begins watching the configuration file. Watching the parent directory
// keeps atomic save (write to temp, rename over) visible across platforms.
func (w *Watcher) Start(ctx context.Context) error {
	watchDir := filepath.Dir(w.configPath)
	if errAdd := w.watcher.Add(watchDir); errAdd != nil {
		log.Errorf("failed to watch config directory %s: %v", watchDir, errAdd)
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return
	}
	configOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if event.Op&configOps == 0 {
		return
	}
	log.Debugf("file system event detected: %s %s", event.Op.String(), event.Name)
	w.scheduleConfigReload()
}

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.stateMutex.RLock()
	currentHash := w.lastConfigHash
	w.stateMutex.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.stateMutex.Lock()
		w.lastConfigHash = newHash
		w.stateMutex.Unlock()
	}
}

func (w *Watcher) reloadConfig() bool {
	log.Debugf("starting config reload from: %s", w.configPath)

	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.stateMutex.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.stateMutex.Unlock()

	util.SetLogLevel(newConfig)
	if oldConfig != nil && oldConfig.Debug != newConfig.Debug {
		log.Debugf("log level updated - debug mode changed from %t to %t", oldConfig.Debug, newConfig.Debug)
	}

	log.Infof("config successfully reloaded")
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	return true
}
