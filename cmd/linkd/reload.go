// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloader re-applies the Logging-configuration block whenever the configuration file changes.
type reloader struct {
	filename string
	watcher  *fsnotify.Watcher

	// applied holds the latest reloaded block, unless it was not yet read.
	applied chan logConf

	stopSyn chan struct{}
	stopAck chan struct{}
}

// newReloader watches the configuration file's directory, as editors often replace files instead of writing them.
func newReloader(filename string) (r *reloader, err error) {
	if filename, err = filepath.Abs(filename); err != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err = watcher.Add(filepath.Dir(filename)); err != nil {
		_ = watcher.Close()
		return
	}

	r = &reloader{
		filename: filename,
		watcher:  watcher,
		applied:  make(chan logConf, 1),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	go r.handler()
	return
}

func (r *reloader) handler() {
	defer close(r.stopAck)

	for {
		select {
		case <-r.stopSyn:
			return

		case e, ok := <-r.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != r.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			r.reload()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

func (r *reloader) reload() {
	conf, err := readConfig(r.filename)
	if err != nil {
		log.WithError(err).WithField("file", r.filename).Warn("Failed to reload configuration")
		return
	}

	parseLogging(conf.Logging)
	log.WithField("file", r.filename).Info("Reloaded logging configuration")

	select {
	case r.applied <- conf.Logging:
	default:
	}
}

// Close the file watcher.
func (r *reloader) Close() error {
	close(r.stopSyn)
	<-r.stopAck

	return r.watcher.Close()
}
