package main

import (
	"strconv"

	"ensemble/internal/catalog"
	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/notification"
	"ensemble/internal/simulation"
	"ensemble/internal/watcher"
)

// watchRosterFile reloads the character roster whenever the file changes and
// reconciles the running simulation against it.
func watchRosterFile(fsWatcher *watcher.Watcher, bus *event.Bus[watcher.Event], engine *simulation.Engine, logger *logging.Logger, path string) {
	if fsWatcher == nil || engine == nil || path == "" {
		return
	}

	_, err := fsWatcher.Watch(path, func(change watcher.Event) {
		roster, loadErr := simulation.LoadRoster(path)
		if loadErr != nil {
			if logger != nil {
				logger.Warn("roster reload failed", map[string]string{
					"path":  path,
					"error": loadErr.Error(),
				})
			}
			notification.Announce(notification.LevelWarn, "simulation", "roster reload failed, keeping previous roster")
			return
		}
		joined, left := engine.ApplyRoster(roster)
		if logger != nil {
			logger.Info("roster reloaded", map[string]string{
				"path":   path,
				"joined": strconv.Itoa(len(joined)),
				"left":   strconv.Itoa(len(left)),
			})
		}
		if bus != nil {
			bus.Publish(change)
		}
	})
	if err != nil && logger != nil {
		logger.Warn("roster watch unavailable", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// watchCatalogOverride re-reads the catalog override file on change so new
// packages and templates show up without a restart.
func watchCatalogOverride(fsWatcher *watcher.Watcher, bus *event.Bus[watcher.Event], cat *catalog.Catalog, logger *logging.Logger, path string) {
	if fsWatcher == nil || cat == nil || path == "" {
		return
	}

	_, err := fsWatcher.Watch(path, func(change watcher.Event) {
		if reloadErr := cat.Reload(); reloadErr != nil {
			if logger != nil {
				logger.Warn("catalog reload failed", map[string]string{
					"path":  path,
					"error": reloadErr.Error(),
				})
			}
			notification.Announce(notification.LevelWarn, "catalog", "catalog reload failed, keeping previous catalog")
			return
		}
		if logger != nil {
			logger.Info("catalog reloaded", map[string]string{
				"path":      path,
				"templates": strconv.Itoa(len(cat.Templates())),
			})
		}
		if bus != nil {
			bus.Publish(change)
		}
	})
	if err != nil && logger != nil {
		logger.Warn("catalog watch unavailable", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
	}
}
