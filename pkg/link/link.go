// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package link implements a reliable, encrypted and multiplexed session, a Link, over an unreliable datagram
// substrate.
//
// Each Link starts with a management channel, carrying the BMCP management protocol. BMCP performs a staged crypto
// handshake, opens data channels, reconciles lost packets by block status reports, throttles the peer and tears the
// Link down again.
package link

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link/crypto"
	"github.com/dtn7/dtnlink/pkg/link/internal/backup"
	"github.com/dtn7/dtnlink/pkg/link/internal/flow"
	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
	"github.com/dtn7/dtnlink/pkg/link/internal/ticker"
)

var (
	// ErrClosed is returned for operations on a terminated Link.
	ErrClosed = errors.New("link is closed")

	// ErrChannelClosed is returned for operations on a closed Channel.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrNotConnected is returned for operations requiring an established Link.
	ErrNotConnected = errors.New("link is not connected")

	// ErrAlreadyStarted is returned by Connect for a Link which has already seen a handshake message.
	ErrAlreadyStarted = errors.New("link handshake already started")

	// ErrRejected is returned if a channel was rejected by the local ChannelFactory.
	ErrRejected = errors.New("channel rejected")

	// ErrUnsupportedProtocol is returned for an unknown management protocol identifier.
	ErrUnsupportedProtocol = errors.New("unsupported management protocol")

	// ErrKilledByPeer is the cause of a Killed Event after an unsolicited KillLink.
	ErrKilledByPeer = errors.New("link killed by peer")

	// ErrDeliveryFailed is the cause of a DeliveryFailed Event.
	ErrDeliveryFailed = errors.New("packet resends exhausted")
)

// Sink transmits datagrams over the underlying substrate.
type Sink interface {
	Send(b []byte, dst net.Addr) error
}

// Link is one encrypted and multiplexed session with a peer.
type Link struct {
	id      ulid.ULID
	config  Config
	peer    net.Addr
	sink    Sink
	factory ChannelFactory
	logger  *log.Entry

	statusMutex       sync.Mutex
	status            Status
	initiator         bool
	pendingDisconnect bool
	method            crypto.Method
	echoNonce         uint64

	inHeader  *crypto.Slot[crypto.HeaderTransform]
	inBody    *crypto.Slot[crypto.BodyTransform]
	outHeader *crypto.Slot[crypto.HeaderTransform]
	outBody   *crypto.Slot[crypto.BodyTransform]

	// recvMutex guards the channel table and the application of inbound transforms.
	recvMutex    sync.Mutex
	channels     map[uint64]channel
	mgmt         *ManagementChannel
	unreliableId atomic.Uint64

	unreliableMutex sync.Mutex
	unreliable      backup.Collection
	unreliableNext  uint64

	flow        *flow.Controller
	mgmtResends *backup.ResendQueue
	dataResends *backup.ResendQueue
	inbound     *flow.Meter
	throttler   *flow.GapThrottler

	datagramsIn  atomic.Uint64
	datagramsOut atomic.Uint64
	dropped      atomic.Uint64

	events chan Event

	connectedOnce sync.Once
	connected     chan struct{}
	done          chan struct{}
	releaseOnce   sync.Once
	released      chan struct{}
	releaseErr    error
}

// New creates a Link with a peer, reachable through the Sink. The ChannelFactory might be nil if no data channels
// should be accepted.
func New(config Config, peer net.Addr, sink Sink, factory ChannelFactory) (*Link, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Link{
		id:         ulid.Make(),
		config:     config,
		peer:       peer,
		sink:       sink,
		factory:    factory,
		inHeader:   crypto.NewSlot[crypto.HeaderTransform](crypto.Identity().Header),
		inBody:     crypto.NewSlot[crypto.BodyTransform](crypto.Identity().Body),
		outHeader:  crypto.NewSlot[crypto.HeaderTransform](crypto.Identity().Header),
		outBody:    crypto.NewSlot[crypto.BodyTransform](crypto.Identity().Body),
		channels:   make(map[uint64]channel),
		unreliable: backup.UnreliableStore{},
		inbound:    flow.NewMeter(),
		events:     make(chan Event, config.EventQueue),
		connected:  make(chan struct{}),
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}

	l.logger = log.WithFields(log.Fields{
		"link": l.id.String(),
		"peer": peerString(peer),
	})

	l.flow = flow.NewController(l.sendDatagram, msgs.MaxHeaderLen+config.MaxPayload+64)
	l.mgmtResends = backup.NewResendQueue(config.ManagementResend, l.resend, l.resendFailed)
	l.dataResends = backup.NewResendQueue(config.DataResend, l.resend, l.resendFailed)
	l.throttler = flow.NewGapThrottler(l.inbound, config.ThrottleCooldown, config.ThrottleFloor)

	return l, nil
}

func peerString(peer net.Addr) string {
	if peer == nil {
		return "<nil>"
	}
	return peer.String()
}

func (l *Link) log() *log.Entry {
	return l.logger
}

func (l *Link) String() string {
	return fmt.Sprintf("link(%s, %s)", l.id, peerString(l.peer))
}

// Id is a unique identifier of this Link, used for logging.
func (l *Link) Id() ulid.ULID {
	return l.id
}

// Peer address of this Link.
func (l *Link) Peer() net.Addr {
	return l.peer
}

// Status of this Link.
func (l *Link) Status() Status {
	l.statusMutex.Lock()
	defer l.statusMutex.Unlock()

	return l.status
}

// Initiator reports if this Link started the handshake.
func (l *Link) Initiator() bool {
	l.statusMutex.Lock()
	defer l.statusMutex.Unlock()

	return l.initiator
}

// Events of this Link. The channel is never closed; a full channel drops Events.
func (l *Link) Events() <-chan Event {
	return l.events
}

// Done is closed after this Link reached a terminal Status.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// WaitConnected blocks until this Link is connected, terminated or the context is done.
func (l *Link) WaitConnected(ctx context.Context) error {
	select {
	case <-l.connected:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) emit(e Event) {
	select {
	case l.events <- e:
	default:
		l.log().WithField("event", e.Type).Warn("Event queue is full, dropping event")
	}
}

// advance the Status to next if the current Status is one of expected. A mismatch is logged and false is returned.
func (l *Link) advance(next Status, expected ...Status) bool {
	l.statusMutex.Lock()
	defer l.statusMutex.Unlock()

	for _, e := range expected {
		if l.status == e && l.status.canAdvance(next) {
			l.log().WithFields(log.Fields{
				"from": l.status,
				"to":   next,
			}).Debug("Link status advanced")

			l.status = next
			return true
		}
	}

	l.log().WithFields(log.Fields{
		"status":   l.status,
		"expected": expected,
		"next":     next,
	}).Debug("Ignoring message for unexpected link status")
	return false
}

// management returns the management channel, creating it on first use. The recvMutex must be held.
func (l *Link) management() *ManagementChannel {
	if l.mgmt == nil {
		l.mgmt = newManagementChannel(l)
		l.channels[ManagementChannelId] = l.mgmt
		l.mgmt.start()
	}
	return l.mgmt
}

func (l *Link) managementChannel() *ManagementChannel {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	return l.management()
}

func (l *Link) addChannel(ch channel) error {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	if _, exists := l.channels[ch.Id()]; exists {
		return fmt.Errorf("channel %d already exists", ch.Id())
	}
	l.channels[ch.Id()] = ch
	return nil
}

func (l *Link) removeChannel(id uint64) {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	delete(l.channels, id)
}

// Channel by its id.
func (l *Link) Channel(id uint64) (Channel, bool) {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	ch, ok := l.channels[id]
	return ch, ok
}

// Channels of this Link, including the management channel.
func (l *Link) Channels() []Channel {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	chs := make([]Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		chs = append(chs, ch)
	}
	return chs
}

func (l *Link) channelCores() []*channelCore {
	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	cores := make([]*channelCore, 0, len(l.channels))
	for _, ch := range l.channels {
		cores = append(cores, ch.core())
	}
	return cores
}

// randomChannelId returns a non-zero id which is neither used by a channel nor the unreliable channel. The recvMutex
// must be held.
func (l *Link) randomChannelId(reserved func(uint64) bool) (uint64, error) {
	buf := make([]byte, 4)
	for {
		if _, err := rand.Read(buf); err != nil {
			return 0, err
		}

		id := uint64(binary.BigEndian.Uint32(buf))
		if id == ManagementChannelId || id == l.unreliableId.Load() {
			continue
		}
		if _, used := l.channels[id]; used {
			continue
		}
		if reserved != nil && reserved(id) {
			continue
		}
		return id, nil
	}
}

// Receive an inbound datagram from the substrate.
func (l *Link) Receive(datagram []byte) {
	if l.Status().Terminal() {
		return
	}

	l.datagramsIn.Add(1)
	l.inbound.Add(len(datagram))

	prefixLen := len(datagram)
	if prefixLen > msgs.MaxHeaderLen {
		prefixLen = msgs.MaxHeaderLen
	}
	prefix := make([]byte, prefixLen)
	copy(prefix, datagram)

	l.recvMutex.Lock()

	l.inHeader.Active().Decode(prefix)
	header, headerLen, err := msgs.ParseHeader(prefix)
	if err != nil {
		l.recvMutex.Unlock()
		l.dropped.Add(1)
		l.log().WithError(err).Debug("Dropping datagram with unparsable header")
		return
	}

	if uint64(len(datagram)-headerLen) < header.Length {
		l.recvMutex.Unlock()
		l.dropped.Add(1)
		l.log().WithField("header", header).Debug("Dropping truncated datagram")
		return
	}

	body := make([]byte, header.Length)
	copy(body, datagram[headerLen:])

	var ch channel
	unreliable := l.unreliableId.Load()
	isUnreliable := unreliable != 0 && header.ChannelId == unreliable
	if !isUnreliable {
		if header.ChannelId == ManagementChannelId {
			ch = l.management()
		} else {
			ch = l.channels[header.ChannelId]
		}
	}

	l.recvMutex.Unlock()

	switch {
	case isUnreliable:
		l.receiveUnreliable(header, body)

	case ch == nil:
		l.dropped.Add(1)
		l.log().WithField("header", header).Debug("Dropping datagram for unknown channel")

	default:
		ch.core().receive(header.DataId, body)
	}
}

func (l *Link) receiveUnreliable(header msgs.Header, body []byte) {
	plain, err := l.inBody.Active().Open(header.ChannelId, header.DataId, body)
	if err != nil {
		l.dropped.Add(1)
		l.log().WithError(err).Debug("Dropping undecryptable unreliable packet")
		return
	}

	msg, err := msgs.Decode(plain)
	if err != nil {
		l.dropped.Add(1)
		l.log().WithError(err).Warn("Dropping unparsable unreliable message")
		return
	}

	l.log().WithField("message", msg).Debug("Received unreliable message")

	switch msg := msg.(type) {
	case *msgs.Throttle:
		l.flow.Throttle(msg.BytesPerSecond)

	case *msgs.Ack:
		l.managementChannel().acked(msg.AckId)

	default:
		l.log().WithField("message", msg).Debug("Ignoring unexpected unreliable message")
	}
}

// transmit a Backup, transforming its header with the currently active outbound header transform.
func (l *Link) transmit(b *backup.Backup, wait bool) error {
	if l.Status().Terminal() {
		return ErrClosed
	}

	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	l.outHeader.Active().Encode(data[:b.HeaderLen])

	if err := l.flow.Send(b.Priority, data, wait); errors.Is(err, flow.ErrClosed) {
		return ErrClosed
	} else {
		return err
	}
}

// sendDatagram is the flow controller's final hand-off to the Sink.
func (l *Link) sendDatagram(data []byte) error {
	if l.Status().Terminal() {
		return ErrClosed
	}

	if err := l.sink.Send(data, l.peer); err != nil {
		l.log().WithError(err).Debug("Sending datagram errored")
		return err
	}

	l.datagramsOut.Add(1)
	return nil
}

// sendUnreliable sends a BMCP message over the unreliable channel, bypassing sequencing and retransmission.
func (l *Link) sendUnreliable(msg msgs.Message) error {
	unreliable := l.unreliableId.Load()
	if unreliable == 0 {
		return ErrNotConnected
	}

	plain, err := msgs.Encode(msg)
	if err != nil {
		return err
	}

	l.unreliableMutex.Lock()
	dataId := l.unreliableNext
	l.unreliableNext++

	sealed := l.outBody.Active().Seal(unreliable, dataId, plain)
	header := msgs.Header{ChannelId: unreliable, DataId: dataId, Length: uint64(len(sealed))}.Bytes()

	b := l.unreliable.Put(dataId, unreliable, flow.PriorityManagement)
	b.Data = append(header, sealed...)
	b.HeaderLen = len(header)
	b.MarkReady()
	l.unreliableMutex.Unlock()

	return l.transmit(b, false)
}

func (l *Link) resend(b *backup.Backup) error {
	return l.transmit(b, false)
}

func (l *Link) resendFailed(b *backup.Backup) {
	l.log().WithFields(log.Fields{
		"channel": b.ChannelId,
		"id":      b.Id,
	}).Warn("Packet delivery failed")

	// An exhausted Backup is gone for good, later block status reports cannot revive it.
	l.recvMutex.Lock()
	ch, ok := l.channels[b.ChannelId]
	l.recvMutex.Unlock()
	if ok {
		ch.core().store.Clear(b.Id, 1)
	}

	l.emit(Event{Type: DeliveryFailed, Link: l, Channel: b.ChannelId, Err: ErrDeliveryFailed})

	// A peer not acknowledging the Disconnect will never send its KillLink. Terminating stops this resend queue,
	// which must not happen from within its own callback.
	if b.ChannelId == ManagementChannelId && l.Status() == StatusDisconnecting {
		go l.terminate(StatusDisconnected, ErrDeliveryFailed)
	}
}

// onGap asks the peer to throttle after a receive gap, at most once per cool-down.
func (l *Link) onGap() {
	if l.Status() != StatusConnected {
		return
	}

	rate, send := l.throttler.OnGap()
	if !send {
		return
	}

	if err := l.sendUnreliable(&msgs.Throttle{BytesPerSecond: rate}); err != nil {
		l.log().WithError(err).Debug("Sending throttle errored")
	}
}

// Connect starts the handshake as the initiator. The Link's progress is reported by its Events or WaitConnected.
func (l *Link) Connect() error {
	method, err := l.config.Registry.Lookup(l.config.CryptoMethod)
	if err != nil {
		return err
	}

	params, err := method.GenerateParams()
	if err != nil {
		return err
	}
	tf, err := method.NewTransforms(params)
	if err != nil {
		return err
	}

	l.statusMutex.Lock()
	if l.status != StatusNone {
		l.statusMutex.Unlock()
		return ErrAlreadyStarted
	}
	l.initiator = true
	l.method = method
	l.status = StatusConnectRequested
	l.statusMutex.Unlock()

	// The inbound transforms are active before ConnectCrypto leaves, so that the answer can already be read.
	l.recvMutex.Lock()
	mgmt := l.management()
	l.inHeader.Set(tf.Header)
	l.inBody.Set(tf.Body)
	l.recvMutex.Unlock()

	l.log().WithField("method", method.Name()).Info("Connecting")

	_, err = mgmt.request(&msgs.ConnectCrypto{Method: method.Name(), Params: params})
	return err
}

func (l *Link) onConnected() {
	l.connectedOnce.Do(func() {
		close(l.connected)
	})

	l.log().Info("Link connected")
	l.emit(Event{Type: Connected, Link: l})

	go l.handleBlockStatus()

	l.statusMutex.Lock()
	pending := l.pendingDisconnect
	l.statusMutex.Unlock()

	if pending {
		l.log().Debug("Applying pending disconnect")
		if err := l.Disconnect(); err != nil {
			l.log().WithError(err).Warn("Pending disconnect errored")
		}
	}
}

// handleBlockStatus periodically requests a block status report while connected.
func (l *Link) handleBlockStatus() {
	windup := ticker.NewWindup()
	defer windup.Stop()

	windup.Reschedule(l.config.BlockStatusInterval)

	for {
		select {
		case <-l.done:
			return

		case <-windup.C:
			if l.Status() == StatusConnected {
				if err := l.RequestBlockStatus(); err != nil {
					l.log().WithError(err).Debug("Requesting block status errored")
				}
			}
			windup.Reschedule(l.config.BlockStatusInterval)
		}
	}
}

// OpenChannel requests a new data channel for a protocol. The local Handler is supplied by the ChannelFactory.
func (l *Link) OpenChannel(ctx context.Context, protocol string) (*DataChannel, error) {
	if l.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	return l.managementChannel().openChannel(ctx, protocol)
}

// RequestBlockStatus asks the peer for a block status report, triggering the resend of missing packets.
func (l *Link) RequestBlockStatus() error {
	if l.Status() != StatusConnected {
		return ErrNotConnected
	}

	_, err := l.managementChannel().request(&msgs.ChannelBlockStatusRequest{})
	return err
}

// ChangeManagementProtocol negotiates another management protocol identifier with the peer.
func (l *Link) ChangeManagementProtocol(ctx context.Context, protocol string) error {
	if l.Status() != StatusConnected {
		return ErrNotConnected
	}
	if !l.config.supportsManagementProtocol(protocol) {
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
	return l.managementChannel().changeProtocol(ctx, protocol)
}

// Disconnect starts a graceful teardown. Within the handshake, the teardown starts right after being connected.
func (l *Link) Disconnect() error {
	l.statusMutex.Lock()
	status := l.status
	switch {
	case status == StatusNone:
		l.statusMutex.Unlock()
		l.terminate(StatusDisconnected, nil)
		return nil

	case status.Handshaking():
		l.pendingDisconnect = true
		l.statusMutex.Unlock()
		l.log().Debug("Disconnect is pending until connected")
		return nil

	case status == StatusConnected:
		l.status = StatusDisconnecting
		l.statusMutex.Unlock()

	default:
		l.statusMutex.Unlock()
		return nil
	}

	l.log().Info("Disconnecting")

	_, err := l.managementChannel().request(&msgs.Disconnect{})
	return err
}

// Kill this Link by force, informing the peer by a KillLink message.
func (l *Link) Kill() {
	status := l.Status()
	if status.Terminal() {
		return
	}

	if status != StatusNone {
		if _, err := l.managementChannel().send(mustEncode(&msgs.KillLink{}), true); err != nil {
			l.log().WithError(err).Debug("Sending KillLink errored")
		}
	}

	l.terminate(StatusKilled, nil)
}

// Close this Link, killing it if necessary, and wait until all of its goroutines have finished.
func (l *Link) Close() error {
	if !l.Status().Terminal() {
		l.Kill()
	}

	<-l.released
	return l.releaseErr
}

// terminate moves into a terminal Status and releases all resources in the background.
func (l *Link) terminate(status Status, cause error) bool {
	l.statusMutex.Lock()
	if l.status.Terminal() {
		l.statusMutex.Unlock()
		return false
	}
	l.status = status
	l.statusMutex.Unlock()

	// Resends stop right away; anything still queued in the flow controller is dropped by the status check.
	l.mgmtResends.Close()
	l.dataResends.Close()

	entry := l.log().WithField("status", status)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Info("Link terminated")

	eventType := Disconnected
	if status == StatusKilled {
		eventType = Killed
	}
	l.emit(Event{Type: eventType, Link: l, Err: cause})

	// The terminal Event is queued before Done is closed.
	close(l.done)

	go l.release()
	return true
}

func (l *Link) release() {
	l.releaseOnce.Do(func() {
		defer close(l.released)

		l.flow.Close()

		l.recvMutex.Lock()
		chs := make([]channel, 0, len(l.channels))
		for _, ch := range l.channels {
			chs = append(chs, ch)
		}
		l.recvMutex.Unlock()

		var errs error
		for _, ch := range chs {
			switch ch := ch.(type) {
			case *DataChannel:
				if err := ch.closeWith(ErrClosed); err != nil && !errors.Is(err, ErrChannelClosed) {
					errs = multierror.Append(errs, err)
				}
			case *ManagementChannel:
				ch.stop()
			}
		}

		// A Handler calling Close from within its Receive would block here.
		for _, ch := range chs {
			ch.core().wait()
		}

		l.releaseErr = errs
		l.log().Debug("Link released")
	})
}

// Stats are counters of a Link.
type Stats struct {
	Status    Status
	Initiator bool
	Method    string

	DatagramsIn  uint64
	DatagramsOut uint64
	Dropped      uint64
	BytesIn      uint64
	BytesOut     uint64

	Resends uint64
	SendCap uint64

	Channels []ChannelStats
}

// Stats of this Link and its channels.
func (l *Link) Stats() Stats {
	l.statusMutex.Lock()
	stats := Stats{
		Status:    l.status,
		Initiator: l.initiator,
	}
	if l.method != nil {
		stats.Method = l.method.Name()
	}
	l.statusMutex.Unlock()

	stats.DatagramsIn = l.datagramsIn.Load()
	stats.DatagramsOut = l.datagramsOut.Load()
	stats.Dropped = l.dropped.Load()
	stats.BytesIn = l.inbound.Total()
	stats.BytesOut = l.flow.SentBytes()
	stats.Resends = l.mgmtResends.Resends() + l.dataResends.Resends()
	stats.SendCap = l.flow.Cap()

	for _, ch := range l.Channels() {
		stats.Channels = append(stats.Channels, ch.Stats())
	}
	return stats
}

func mustEncode(msg msgs.Message) []byte {
	data, err := msgs.Encode(msg)
	if err != nil {
		panic(fmt.Sprintf("encoding %v: %v", msg, err))
	}
	return data
}
