// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/node"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging logConf
	Link    linkConf
	Node    nodeConf
	Api     apiConf
	Listen  []listenConf
	Peer    []peerConf
	Service []serviceConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// linkConf describes the Link-configuration block. Unset values keep their defaults.
type linkConf struct {
	Crypto              string
	MaxPayload          int      `toml:"max-payload"`
	ReorderCapacity     int      `toml:"reorder-capacity"`
	BlockStatusInterval duration `toml:"block-status-interval"`
	ResendInterval      duration `toml:"resend-interval"`
	ResendRetries       int      `toml:"resend-retries"`
}

// nodeConf describes the Node-configuration block, supervising all Links.
type nodeConf struct {
	HandshakeTimeout duration `toml:"handshake-timeout"`
	Redial           duration
}

// apiConf describes the status REST API.
type apiConf struct {
	Listen string
}

// listenConf describes a substrate to receive Links on.
type listenConf struct {
	Protocol string
	Endpoint string
}

// peerConf describes a peer to be dialed, and the channels to be opened afterwards.
type peerConf struct {
	Protocol string
	Endpoint string
	Channels []string
}

// serviceConf binds a channel protocol to a local service.
type serviceConf struct {
	Protocol string
	Type     string
}

// duration is a time.Duration in TOML, e.g., "1m30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

// readConfig decodes a TOML file.
func readConfig(filename string) (conf tomlConfig, err error) {
	_, err = toml.DecodeFile(filename, &conf)
	return
}

// parseLogging applies the Logging-configuration block to logrus' standard logger.
func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseNodeConfig merges the Link- and Node-configuration blocks into the defaults.
func parseNodeConfig(lc linkConf, nc nodeConf) (node.Config, error) {
	config := node.DefaultConfig()

	if lc.Crypto != "" {
		config.Link.CryptoMethod = lc.Crypto
	}
	if lc.MaxPayload != 0 {
		config.Link.MaxPayload = lc.MaxPayload
	}
	if lc.ReorderCapacity != 0 {
		config.Link.ReorderCapacity = lc.ReorderCapacity
	}
	if lc.BlockStatusInterval.Duration != 0 {
		config.Link.BlockStatusInterval = lc.BlockStatusInterval.Duration
	}
	if lc.ResendInterval.Duration != 0 {
		config.Link.ManagementResend.Interval = lc.ResendInterval.Duration
		config.Link.DataResend.Interval = lc.ResendInterval.Duration
	}
	if lc.ResendRetries != 0 {
		config.Link.ManagementResend.Retries = lc.ResendRetries
		config.Link.DataResend.Retries = lc.ResendRetries
	}

	if nc.HandshakeTimeout.Duration != 0 {
		config.HandshakeTimeout = nc.HandshakeTimeout.Duration
	}

	if err := config.Link.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// parseServices checks the Service-configuration blocks and maps each protocol to its service.
func parseServices(confs []serviceConf) (map[string]service, error) {
	var errs error
	services := make(map[string]service)

	for _, conf := range confs {
		if conf.Protocol == "" {
			errs = multierror.Append(errs, fmt.Errorf("service.protocol is empty"))
			continue
		}
		if _, exists := services[conf.Protocol]; exists {
			errs = multierror.Append(errs, fmt.Errorf("service.protocol \"%s\" is configured twice", conf.Protocol))
			continue
		}

		s, err := newService(conf.Type)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		services[conf.Protocol] = s
	}

	return services, errs
}

// checkEndpoints validates the Listen- and Peer-configuration blocks before anything is started.
func checkEndpoints(listens []listenConf, peers []peerConf, services map[string]service) error {
	var errs error

	for _, conf := range listens {
		switch conf.Protocol {
		case "udp", "quic", "ws":
		default:
			errs = multierror.Append(errs, fmt.Errorf("Unknown listen.protocol \"%s\"", conf.Protocol))
		}
		if conf.Endpoint == "" {
			errs = multierror.Append(errs, fmt.Errorf("listen.endpoint for %s is empty", conf.Protocol))
		}
	}

	for _, conf := range peers {
		switch conf.Protocol {
		case "udp", "quic", "ws":
		default:
			errs = multierror.Append(errs, fmt.Errorf("Unknown peer.protocol \"%s\"", conf.Protocol))
		}
		if conf.Endpoint == "" {
			errs = multierror.Append(errs, fmt.Errorf("peer.endpoint for %s is empty", conf.Protocol))
		}
		for _, protocol := range conf.Channels {
			if _, ok := services[protocol]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("peer channel \"%s\" has no service", protocol))
			}
		}
	}

	return errs
}
