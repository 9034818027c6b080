// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link"
	"github.com/dtn7/dtnlink/pkg/node"
	"github.com/dtn7/dtnlink/pkg/substrate"
)

// daemon bundles the Manager with its substrates, peers and HTTP servers.
type daemon struct {
	manager *node.Manager

	udp  *substrate.UDP
	quic *substrate.QUIC
	ws   *substrate.WebSocket

	redial      time.Duration
	httpServers []*http.Server

	stopSyn chan struct{}
	wg      sync.WaitGroup
}

// parseDaemon creates and starts the daemon based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, err error) {
	conf, err := readConfig(filename)
	if err != nil {
		return
	}

	parseLogging(conf.Logging)

	nodeConfig, err := parseNodeConfig(conf.Link, conf.Node)
	if err != nil {
		return
	}
	services, err := parseServices(conf.Service)
	if err != nil {
		return
	}
	if err = checkEndpoints(conf.Listen, conf.Peer, services); err != nil {
		return
	}

	manager, err := node.NewManager(nodeConfig, serviceFactory(services))
	if err != nil {
		return
	}

	d = &daemon{
		manager: manager,
		redial:  conf.Node.Redial.Duration,
		stopSyn: make(chan struct{}),
	}

	for _, lc := range conf.Listen {
		if err = d.listen(lc); err != nil {
			_ = d.Close()
			return nil, err
		}
	}

	if conf.Api.Listen != "" {
		d.serveHTTP(conf.Api.Listen, newApi(manager, mux.NewRouter()))
	}

	for _, pc := range conf.Peer {
		if err = d.prepareDial(pc.Protocol); err != nil {
			_ = d.Close()
			return nil, err
		}
	}

	d.wg.Add(1)
	go d.logEvents()

	for _, pc := range conf.Peer {
		d.wg.Add(1)
		go d.handlePeer(pc)
	}

	return
}

// listen on a substrate, as described by a Listen-configuration block.
func (d *daemon) listen(conf listenConf) error {
	switch conf.Protocol {
	case "udp":
		if d.udp != nil {
			return fmt.Errorf("only one udp listener is supported")
		}
		udp, err := substrate.ListenUDP(conf.Endpoint)
		if err != nil {
			return err
		}
		d.udp = udp
		return d.manager.Register(udp)

	case "quic":
		if d.quic != nil {
			return fmt.Errorf("only one quic listener is supported")
		}
		q, err := substrate.ListenQUIC(conf.Endpoint)
		if err != nil {
			return err
		}
		d.quic = q
		return d.manager.Register(q)

	case "ws":
		if err := d.registerWebSocket(); err != nil {
			return err
		}
		router := mux.NewRouter()
		router.Handle("/link", d.ws)
		d.serveHTTP(conf.Endpoint, router)
		return nil

	default:
		return fmt.Errorf("Unknown listen.protocol \"%s\"", conf.Protocol)
	}
}

func (d *daemon) registerWebSocket() error {
	if d.ws != nil {
		return nil
	}
	d.ws = substrate.NewWebSocket()
	return d.manager.Register(d.ws)
}

func (d *daemon) serveHTTP(addr string, handler http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	d.httpServers = append(d.httpServers, server)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("address", addr).Error("HTTP server errored")
		}
	}()
}

// prepareDial creates a client-only substrate for a peer's protocol, unless one is listening already.
func (d *daemon) prepareDial(protocol string) error {
	switch protocol {
	case "udp":
		if d.udp != nil {
			return nil
		}
		return d.listen(listenConf{Protocol: "udp", Endpoint: ":0"})

	case "quic":
		if d.quic != nil {
			return nil
		}
		d.quic = substrate.NewQUIC()
		return d.manager.Register(d.quic)

	case "ws":
		return d.registerWebSocket()

	default:
		return fmt.Errorf("Unknown peer.protocol \"%s\"", protocol)
	}
}

// dial a peer over the substrate of its protocol.
func (d *daemon) dial(ctx context.Context, conf peerConf) (*link.Link, error) {
	switch conf.Protocol {
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", conf.Endpoint)
		if err != nil {
			return nil, err
		}
		return d.manager.Dial(ctx, d.udp, addr)

	case "quic":
		addr, err := d.quic.Dial(ctx, conf.Endpoint)
		if err != nil {
			return nil, err
		}
		return d.manager.Dial(ctx, d.quic, addr)

	case "ws":
		addr, err := d.ws.Dial(conf.Endpoint)
		if err != nil {
			return nil, err
		}
		return d.manager.Dial(ctx, d.ws, addr)

	default:
		return nil, fmt.Errorf("Unknown peer.protocol \"%s\"", conf.Protocol)
	}
}

// handlePeer dials a peer and opens its channels. If redial is configured, a lost Link is dialed again.
func (d *daemon) handlePeer(conf peerConf) {
	defer d.wg.Done()

	logger := log.WithFields(log.Fields{
		"protocol": conf.Protocol,
		"endpoint": conf.Endpoint,
	})

	for {
		l, err := d.connectPeer(conf)
		if err != nil {
			logger.WithError(err).Warn("Failed to establish a connection to a peer")
		}
		if l != nil {
			select {
			case <-l.Done():
				logger.WithField("link", l).Info("Link to peer terminated")
			case <-d.stopSyn:
				return
			}
		}

		if d.redial <= 0 {
			return
		}

		select {
		case <-time.After(d.redial):
		case <-d.stopSyn:
			return
		}
	}
}

func (d *daemon) connectPeer(conf peerConf) (*link.Link, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-d.stopSyn:
			cancel()
		case <-ctx.Done():
		}
	}()

	l, err := d.dial(ctx, conf)
	if err != nil {
		return nil, err
	}

	for _, protocol := range conf.Channels {
		ch, err := l.OpenChannel(ctx, protocol)
		if err != nil {
			return l, fmt.Errorf("opening channel %s: %w", protocol, err)
		}
		log.WithField("channel", ch).Info("Opened channel to peer")
	}

	return l, nil
}

// logEvents drains the Manager's Events.
func (d *daemon) logEvents() {
	defer d.wg.Done()

	for e := range d.manager.Events() {
		entry := log.WithFields(log.Fields{
			"link":    e.Link,
			"channel": e.Channel,
		})
		if e.Err != nil {
			entry = entry.WithError(e.Err)
		}
		entry.Info(e.Type.String())
	}
}

// Close the daemon, all HTTP servers, Links and substrates.
func (d *daemon) Close() error {
	var errs error

	close(d.stopSyn)

	for _, server := range d.httpServers {
		if err := server.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := d.manager.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	d.wg.Wait()
	return errs
}
