// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link"
)

// service creates a Handler for each DataChannel of its protocol.
type service func() link.Handler

func newService(serviceType string) (service, error) {
	switch serviceType {
	case "echo":
		return func() link.Handler { return echoHandler{} }, nil

	case "discard":
		return func() link.Handler { return discardHandler{} }, nil

	default:
		return nil, fmt.Errorf("Unknown service.type \"%s\"", serviceType)
	}
}

// serviceFactory supplies DataChannels with the configured services, rejecting unknown protocols.
func serviceFactory(services map[string]service) link.ChannelFactory {
	return func(channelId uint64, protocol string) (link.Handler, bool) {
		s, ok := services[protocol]
		if !ok {
			log.WithFields(log.Fields{
				"channel":  channelId,
				"protocol": protocol,
			}).Info("No service for requested channel protocol")
			return nil, false
		}
		return s(), true
	}
}

// echoHandler sends each payload back.
type echoHandler struct{}

func (echoHandler) Receive(ch *link.DataChannel, data []byte) {
	if err := ch.Send(data, false); err != nil {
		log.WithError(err).WithField("channel", ch).Warn("Echoing payload errored")
	}
}

func (echoHandler) Closed(ch *link.DataChannel, err error) {
	log.WithError(err).WithField("channel", ch).Debug("Echo channel closed")
}

// discardHandler drops all payloads.
type discardHandler struct{}

func (discardHandler) Receive(ch *link.DataChannel, data []byte) {
	log.WithFields(log.Fields{
		"channel": ch,
		"size":    len(data),
	}).Debug("Discarding payload")
}

func (discardHandler) Closed(ch *link.DataChannel, err error) {
	log.WithError(err).WithField("channel", ch).Debug("Discard channel closed")
}
