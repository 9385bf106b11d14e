package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the config file for changes and re-resolves tunable
// settings. Only hot-reloadable fields (notify and retention tunables) are
// applied; listener and storage settings require a restart.
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	stopChan   chan struct{}
	stopOnce   sync.Once

	mu       sync.RWMutex
	onReload func(*Settings)
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(configPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath: configPath,
		watcher:    fw,
		stopChan:   make(chan struct{}),
	}, nil
}

// OnReload registers the callback invoked with freshly loaded settings.
func (w *Watcher) OnReload(callback func(*Settings)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.watchForChanges()
	log.Info().Str("path", w.configPath).Msg("Watching config file for changes")
	return nil
}

// Stop stops the config watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath && filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce: wait for the write to settle
			time.Sleep(100 * time.Millisecond)
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	loader := NewLoader()
	loader.SetConfigPath(w.configPath)
	settings, err := loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid config reload")
		return
	}

	w.mu.RLock()
	callback := w.onReload
	w.mu.RUnlock()

	if callback != nil {
		callback(settings)
	}
	log.Info().
		Int("cooldownMinutes", settings.Notify.CooldownMinutes).
		Int("retentionDays", settings.Retention.Days).
		Msg("Reloaded configuration")
}
