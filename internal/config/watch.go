package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"machinehub/internal/logging"
)

const defaultWatchDebounce = 200 * time.Millisecond

type WatchOptions struct {
	Path     string
	Debounce time.Duration
	Load     func() (Settings, error)
	OnChange func(Settings, error)
	Logger   *logging.Logger
}

// Watch reloads settings whenever the file at Path changes and hands the
// result to OnChange. Bursts of writes within Debounce collapse into one
// reload. The parent directory is watched so editors that replace the file
// are seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, options WatchOptions) error {
	if options.Path == "" || options.Load == nil || options.OnChange == nil {
		return errors.New("config watch requires a path, loader and callback")
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	target, err := filepath.Abs(options.Path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if _, err := os.Stat(dir); err != nil {
		logger.Warn("config watch disabled", watchFields(map[string]string{
			"path":  target,
			"error": err.Error(),
		}))
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Debug("config watch started", watchFields(map[string]string{"path": target}))

	reload := make(chan struct{}, 1)
	var timerMu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Reset(debounce)
			return
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", watchFields(map[string]string{"error": err.Error()}))
		case <-reload:
			settings, err := options.Load()
			if err != nil {
				logger.Warn("config reload failed", watchFields(map[string]string{
					"path":  target,
					"error": err.Error(),
				}))
			} else {
				logger.Info("config reloaded", watchFields(map[string]string{"path": target}))
			}
			options.OnChange(settings, err)
		}
	}
}

func watchFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["machinehub.category"] = "config"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
