/*
File: model_watcher.go
Version: 1.0.0
Description: Optional periodic reload of the model artifact when its modification time changes.
             An unchanged file is never reloaded, so a broken artifact is not retried until it is replaced.
*/

package main

import (
	"context"
	"os"
	"time"
)

// StartModelWatcher blocks until ctx is done.
func (e *Engine) StartModelWatcher(ctx context.Context, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	LogInfo("[MODEL] Watching %s for changes (Interval: %v)", path, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastMod = e.checkModelUpdate(path, lastMod)
		}
	}
}

// checkModelUpdate reloads path if it is newer than lastMod and returns the mtime to remember.
func (e *Engine) checkModelUpdate(path string, lastMod time.Time) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return lastMod
	}
	if !info.ModTime().After(lastMod) {
		return lastMod
	}

	LogInfo("[MODEL] File changed: %s", path)
	_ = e.LoadModelFile(path)
	return info.ModTime()
}
