package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "dosebot/pkg/logx"
)

const (
	DefaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// WatchFile calls onChange (debounced) whenever path is written, created,
// renamed or removed, until ctx is done. It watches the parent directory so
// editors that replace the file atomically are handled.
//
// When fsnotify gets into a bad state the watcher may stop delivering events
// or close its channels; WatchFile then recreates it with jittered backoff.
func WatchFile(ctx context.Context, path string, debounce time.Duration, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	log = log.With(logx.String("dir", dir), logx.String("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("change detected; scheduling reload")
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() == nil {
				onChange()
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

	backoff := restartBackoffBase
	sleep := func(reason string, err error) bool {
		wait := backoff + time.Duration(rand.Int64N(int64(backoff/2)+1))
		log.Warn(reason, logx.Err(err), logx.Duration("backoff", wait))
		backoff = min(backoff*2, restartBackoffMax)
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !sleep("watch init failed", err) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !sleep("watch add failed", err) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		log.Debug("watcher started")

		brokenErr := watchLoop(ctx, w, file, log, trigger)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !sleep("watcher stopped; restarting", brokenErr) {
			return nil
		}
	}
	return nil
}

// watchLoop runs until ctx is done or the watcher breaks.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, log logx.Logger, trigger func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare by basename; more robust across absolute/relative paths.
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err == nil {
				continue
			}
			// Overflow means events were missed; reload once and keep going.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			log.Warn("watch error", logx.Err(err))
			if strings.Contains(strings.ToLower(err.Error()), "closed") {
				return err
			}
		}
	}
}
