// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// linkd is a daemon establishing Links to its configured peers and serving their channels.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseDaemon(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	r, err := newReloader(os.Args[1])
	if err != nil {
		log.WithError(err).Warn("Failed to watch configuration, reloading is disabled")
	}

	waitSigint()
	log.Info("Shutting down..")

	if r != nil {
		if err := r.Close(); err != nil {
			log.WithError(err).Warn("Closing configuration watcher errored")
		}
	}

	if err := d.Close(); err != nil {
		log.WithError(err).Warn("Closing daemon errored")
	}
}
