// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package node supervises the Links of one node on top of its Substrates.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link"
	"github.com/dtn7/dtnlink/pkg/substrate"
)

// Config of a Manager.
type Config struct {
	// Link is the configuration of each created Link.
	Link link.Config

	// HandshakeTimeout is the time a Link might stay unconnected, or disconnecting, before being killed.
	HandshakeTimeout time.Duration

	// SweepInterval is the period of checking for expired handshakes and disconnects.
	SweepInterval time.Duration
}

// DefaultConfig for a Manager.
func DefaultConfig() Config {
	return Config{
		Link:             link.DefaultConfig(),
		HandshakeTimeout: 30 * time.Second,
		SweepInterval:    5 * time.Second,
	}
}

// Manager demultiplexes the datagrams of its Substrates to Links, one for each peer address, and supervises them.
//
// Unknown peers get a responding Link on their first datagram; Dial creates an initiating Link. Terminated Links are
// removed and all their Events are forwarded to the Manager's Events channel.
type Manager struct {
	config  Config
	factory link.ChannelFactory

	// links maps each peer's key, see linkKey, to its managedLink.
	links      map[string]*managedLink
	linksMutex sync.RWMutex

	substrates      []substrate.Substrate
	substratesMutex sync.Mutex

	// inChnl receives the Links' Events while outChnl passes them on. outChnl must always be read, otherwise the
	// Manager will block.
	inChnl  chan link.Event
	outChnl chan link.Event

	// stop{Syn,Ack} are used to supervise closing this Manager, see Close()
	stopSyn  chan struct{}
	stopAck  chan struct{}
	closeErr error

	// stopFlag and its mutex protect the Manager against acting on new Links after the Close method was called once.
	stopFlag      bool
	stopFlagMutex sync.Mutex
}

// NewManager creates a new Manager, supplying each Link's DataChannels with Handlers from the ChannelFactory.
func NewManager(config Config, factory link.ChannelFactory) (*Manager, error) {
	if err := config.Link.Validate(); err != nil {
		return nil, err
	}
	if config.HandshakeTimeout <= 0 || config.SweepInterval <= 0 {
		return nil, fmt.Errorf("handshake timeout and sweep interval must be positive")
	}

	manager := &Manager{
		config:  config,
		factory: factory,

		links: make(map[string]*managedLink),

		inChnl:  make(chan link.Event, 100),
		outChnl: make(chan link.Event),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go manager.handler()

	return manager, nil
}

// handler is the internal goroutine for management.
func (manager *Manager) handler() {
	sweepTicker := time.NewTicker(manager.config.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-manager.stopSyn:
			log.Debug("Link Manager received closing signal")

			manager.closeErr = manager.closeAll()

			close(manager.outChnl)
			close(manager.stopAck)
			return

		case e := <-manager.inChnl:
			log.WithFields(log.Fields{
				"type":  e.Type,
				"event": e.String(),
			}).Debug("Link Manager received Event")

			select {
			case manager.outChnl <- e:
			case <-manager.stopSyn:
			}

		case <-sweepTicker.C:
			manager.sweep()
		}
	}
}

func (manager *Manager) closeAll() error {
	var errs error

	for _, ml := range manager.managedLinks() {
		if err := ml.link.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	manager.substratesMutex.Lock()
	for _, sub := range manager.substrates {
		if err := sub.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing %v: %w", sub, err))
		}
	}
	manager.substratesMutex.Unlock()

	return errs
}

// sweep kills Links whose handshake or disconnect did not finish in time.
func (manager *Manager) sweep() {
	for _, ml := range manager.managedLinks() {
		if !ml.expired(manager.config.HandshakeTimeout) {
			continue
		}

		log.WithFields(log.Fields{
			"link":   ml.link,
			"status": ml.link.Status(),
		}).Info("Link Manager kills expired link")

		ml.link.Kill()
	}
}

// Events of all supervised Links. The channel is closed after Close.
func (manager *Manager) Events() <-chan link.Event {
	return manager.outChnl
}

// isStopped signals if the Manager should be stopped.
func (manager *Manager) isStopped() bool {
	manager.stopFlagMutex.Lock()
	defer manager.stopFlagMutex.Unlock()

	return manager.stopFlag
}

// Close the Manager, all its Links and Substrates.
func (manager *Manager) Close() error {
	manager.stopFlagMutex.Lock()
	if manager.stopFlag {
		manager.stopFlagMutex.Unlock()
		return fmt.Errorf("manager was already closed")
	}
	manager.stopFlag = true
	manager.stopFlagMutex.Unlock()

	close(manager.stopSyn)
	<-manager.stopAck

	return manager.closeErr
}

// Register and start a Substrate, whose datagrams are passed to the Links afterwards.
func (manager *Manager) Register(sub substrate.Substrate) error {
	if manager.isStopped() {
		return fmt.Errorf("manager is closed")
	}

	manager.substratesMutex.Lock()
	defer manager.substratesMutex.Unlock()

	for _, known := range manager.substrates {
		if known == sub {
			log.WithField("substrate", sub).Debug("Substrate registration aborted, already known")
			return nil
		}
	}

	if err := sub.Start(func(datagram []byte, src net.Addr) {
		manager.receive(sub, datagram, src)
	}); err != nil {
		return err
	}

	manager.substrates = append(manager.substrates, sub)
	log.WithField("substrate", sub).Info("Link Manager registered substrate")
	return nil
}

// receive a datagram from a Substrate, creating a responding Link for unknown peers.
func (manager *Manager) receive(sub substrate.Substrate, datagram []byte, src net.Addr) {
	if manager.isStopped() {
		return
	}

	key := linkKey(sub, src)

	manager.linksMutex.RLock()
	ml, exists := manager.links[key]
	manager.linksMutex.RUnlock()

	if !exists || ml.link.Status().Terminal() {
		var err error
		if ml, err = manager.create(sub, src, false); err != nil {
			log.WithError(err).WithField("peer", src).Warn("Link Manager failed to create link")
			return
		}
	}

	ml.link.Receive(datagram)
}

// create a Link for a peer, unless an active one exists, which is returned instead.
func (manager *Manager) create(sub substrate.Substrate, peer net.Addr, initiator bool) (*managedLink, error) {
	key := linkKey(sub, peer)

	manager.linksMutex.Lock()
	defer manager.linksMutex.Unlock()

	if ml, exists := manager.links[key]; exists && !ml.link.Status().Terminal() {
		return ml, nil
	}

	l, err := link.New(manager.config.Link, peer, sub, manager.factory)
	if err != nil {
		return nil, err
	}

	ml := newManagedLink(l, sub, key, initiator)
	manager.links[key] = ml

	log.WithFields(log.Fields{
		"link":      l,
		"substrate": sub,
		"initiator": initiator,
	}).Info("Link Manager created link")

	go manager.watch(ml)
	return ml, nil
}

// watch forwards a Link's Events until it terminates and removes it afterwards.
func (manager *Manager) watch(ml *managedLink) {
	forward := func(e link.Event) bool {
		select {
		case manager.inChnl <- e:
			return true
		case <-manager.stopSyn:
			return false
		}
	}

	for {
		select {
		case e := <-ml.link.Events():
			if !forward(e) {
				return
			}

		case <-ml.link.Done():
			for drained := false; !drained; {
				select {
				case e := <-ml.link.Events():
					if !forward(e) {
						return
					}
				default:
					drained = true
				}
			}

			manager.remove(ml)
			return

		case <-manager.stopSyn:
			return
		}
	}
}

func (manager *Manager) remove(ml *managedLink) {
	manager.linksMutex.Lock()
	defer manager.linksMutex.Unlock()

	if manager.links[ml.key] == ml {
		delete(manager.links, ml.key)
	}

	go func() {
		if err := ml.link.Close(); err != nil {
			log.WithError(err).WithField("link", ml.link).Warn("Closing terminated link errored")
		}
	}()
}

// Dial a peer over a registered Substrate and wait until the Link is connected or the context is done.
func (manager *Manager) Dial(ctx context.Context, sub substrate.Substrate, peer net.Addr) (*link.Link, error) {
	if manager.isStopped() {
		return nil, fmt.Errorf("manager is closed")
	}

	ml, err := manager.create(sub, peer, true)
	if err != nil {
		return nil, err
	}

	if ml.initiator && ml.link.Status() == link.StatusNone {
		if err := ml.link.Connect(); err != nil {
			return nil, err
		}
	}

	if err := ml.link.WaitConnected(ctx); err != nil {
		ml.link.Kill()
		return nil, err
	}
	return ml.link, nil
}

func (manager *Manager) managedLinks() []*managedLink {
	manager.linksMutex.RLock()
	defer manager.linksMutex.RUnlock()

	mls := make([]*managedLink, 0, len(manager.links))
	for _, ml := range manager.links {
		mls = append(mls, ml)
	}
	return mls
}

// Links returns all supervised Links.
func (manager *Manager) Links() []*link.Link {
	mls := manager.managedLinks()

	links := make([]*link.Link, 0, len(mls))
	for _, ml := range mls {
		links = append(links, ml.link)
	}
	return links
}

// Link by its id, the string of its ULID.
func (manager *Manager) Link(id string) (*link.Link, bool) {
	for _, ml := range manager.managedLinks() {
		if ml.link.Id().String() == id {
			return ml.link, true
		}
	}
	return nil, false
}
