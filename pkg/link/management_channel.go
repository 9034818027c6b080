// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link/internal/flow"
	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
	"github.com/dtn7/dtnlink/pkg/link/internal/reorder"
)

// pendingOpen is a locally requested DataChannel awaiting its confirmation.
type pendingOpen struct {
	requestId uint64
	protocol  string
	handler   Handler
	opened    chan *DataChannel
}

// ManagementChannel carries BMCP, the Link's management protocol, as channel 0.
type ManagementChannel struct {
	*channelCore

	stateMutex sync.Mutex
	protocol   string

	// outstanding requests by their type, cleared by the peer's answer.
	outstanding map[msgs.CommandType][]uint64

	pendingOpens    map[uint64]*pendingOpen
	pendingProtocol map[string]chan struct{}
}

func newManagementChannel(l *Link) *ManagementChannel {
	mc := &ManagementChannel{
		channelCore:     newChannelCore(l, ManagementChannelId, flow.PriorityManagement, l.mgmtResends),
		protocol:        l.config.ManagementProtocols[0],
		outstanding:     make(map[msgs.CommandType][]uint64),
		pendingOpens:    make(map[uint64]*pendingOpen),
		pendingProtocol: make(map[string]chan struct{}),
	}
	mc.consume = mc.consumeBlock
	mc.duplicate = mc.onDuplicate
	mc.overflow = mc.onOverflow
	return mc
}

func (mc *ManagementChannel) Id() uint64 { return ManagementChannelId }

func (mc *ManagementChannel) Protocol() string {
	mc.stateMutex.Lock()
	defer mc.stateMutex.Unlock()

	return mc.protocol
}

func (mc *ManagementChannel) Link() *Link { return mc.link }

func (mc *ManagementChannel) core() *channelCore { return mc.channelCore }

func (mc *ManagementChannel) Stats() ChannelStats {
	stats := mc.stats()
	stats.Protocol = mc.Protocol()
	return stats
}

// Close the management channel by killing its Link.
func (mc *ManagementChannel) Close() error {
	return mc.link.Close()
}

func (mc *ManagementChannel) String() string {
	return fmt.Sprintf("management channel of %v", mc.link)
}

// request sends a message expecting an answer. Its data id is tracked until answered.
func (mc *ManagementChannel) request(msg msgs.Message) (uint64, error) {
	data, err := msgs.Encode(msg)
	if err != nil {
		return 0, err
	}

	// An answer processed while sending waits for the id to be tracked.
	mc.stateMutex.Lock()
	defer mc.stateMutex.Unlock()

	dataId, err := mc.send(data, false)
	if err != nil {
		return dataId, err
	}
	mc.outstanding[msg.Command()] = append(mc.outstanding[msg.Command()], dataId)

	mc.log().WithFields(log.Fields{
		"id":      dataId,
		"message": msg,
	}).Debug("Sent management request")
	return dataId, nil
}

// reply answers the request of data id requestId. The reply is recorded to be retransmitted for duplicates. A reply
// answered by the peer in turn is tracked like a request until then.
func (mc *ManagementChannel) reply(requestId uint64, msg msgs.Message, wait bool) error {
	data, err := msgs.Encode(msg)
	if err != nil {
		return err
	}

	mc.log().WithFields(log.Fields{
		"request": requestId,
		"message": msg,
	}).Debug("Sending management reply")

	if !answeredByPeer(msg) {
		replyId, err := mc.send(data, wait)
		mc.setReply(requestId, replyId)
		return err
	}

	mc.stateMutex.Lock()
	defer mc.stateMutex.Unlock()

	replyId, err := mc.send(data, wait)
	mc.setReply(requestId, replyId)
	if err == nil {
		mc.outstanding[msg.Command()] = append(mc.outstanding[msg.Command()], replyId)
	}
	return err
}

// answeredByPeer reports if a reply is answered by the peer's next handshake message or by an Ack.
func answeredByPeer(msg msgs.Message) bool {
	switch msg.Command() {
	case msgs.ConnectCryptoEchoRequestType,
		msgs.ConnectEchoReplyType,
		msgs.ConnectFullEncryptionRequestType:
		return true
	default:
		return expectsAck(msg)
	}
}

// answered clears all outstanding requests of a type.
func (mc *ManagementChannel) answered(cmd msgs.CommandType) {
	mc.stateMutex.Lock()
	ids := mc.outstanding[cmd]
	delete(mc.outstanding, cmd)
	mc.stateMutex.Unlock()

	for _, id := range ids {
		mc.store.Clear(id, 1)
	}
}

// acked clears one sent message, confirmed by an Ack or an AckId.
func (mc *ManagementChannel) acked(id uint64) {
	mc.stateMutex.Lock()
	for cmd, ids := range mc.outstanding {
		for i, outstanding := range ids {
			if outstanding == id {
				mc.outstanding[cmd] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	mc.stateMutex.Unlock()

	mc.store.Clear(id, 1)
}

func (mc *ManagementChannel) sendAck(id uint64) {
	if err := mc.link.sendUnreliable(&msgs.Ack{AckId: id}); err != nil {
		mc.log().WithError(err).WithField("id", id).Debug("Sending Ack errored")
	}
}

// expectsAck reports if a message is answered by an Ack instead of a recorded reply.
func expectsAck(msg msgs.Message) bool {
	switch msg.Command() {
	case msgs.ConnectConfirmationType,
		msgs.OpenChannelConfirmationType,
		msgs.ChannelBlockStatusReportType,
		msgs.ChangeMgmtChannelProtocolConfirmationType:
		return true
	default:
		return false
	}
}

func (mc *ManagementChannel) onDuplicate(dataId uint64, plain []byte, replyId uint64, hasReply bool) {
	if hasReply {
		if b, ok := mc.store.Get(replyId); ok && b.Ready() {
			mc.log().WithFields(log.Fields{
				"request": dataId,
				"reply":   replyId,
			}).Debug("Retransmitting reply for duplicate request")

			if err := mc.link.transmit(b, false); err != nil {
				mc.log().WithError(err).Debug("Retransmitting reply errored")
			}
		}
		return
	}

	msg, err := msgs.Decode(plain)
	if err != nil {
		return
	}
	if expectsAck(msg) {
		mc.sendAck(dataId)
	}
}

func (mc *ManagementChannel) onOverflow(err error) {
	mc.log().WithError(err).Warn("Management channel overflow, killing link")
	go mc.link.Kill()
}

func (mc *ManagementChannel) consumeBlock(block reorder.Block) {
	msg, err := msgs.Decode(block.Data)
	if err != nil {
		mc.log().WithError(err).WithField("id", block.Id).Warn("Dropping unparsable management message")

		// Without a parsable first message, no handshake can follow.
		if mc.link.Status() == StatusNone {
			mc.link.terminate(StatusKilled, err)
		}
		return
	}

	mc.log().WithFields(log.Fields{
		"id":      block.Id,
		"message": msg,
	}).Debug("Received management message")

	mc.process(block.Id, msg)
}

func (mc *ManagementChannel) process(id uint64, msg msgs.Message) {
	switch msg := msg.(type) {
	case *msgs.ConnectCrypto:
		mc.onConnectCrypto(id, msg)
	case *msgs.ConnectCryptoEchoRequest:
		mc.onEchoRequest(id, msg)
	case *msgs.ConnectEchoReply:
		mc.onEchoReply(id, msg)
	case *msgs.ConnectFullEncryptionRequest:
		mc.onFullEncryptionRequest(id)
	case *msgs.ConnectConfirmation:
		mc.onConnectConfirmation(id)

	case *msgs.OpenChannelRequest:
		mc.onOpenChannelRequest(id, msg)
	case *msgs.OpenChannelConfirmation:
		mc.onOpenChannelConfirmation(id, msg)

	case *msgs.ChannelBlockStatusRequest:
		mc.onBlockStatusRequest(id)
	case *msgs.ChannelBlockStatusReport:
		mc.onBlockStatusReport(id, msg)

	case *msgs.ChangeMgmtChannelProtocolRequest:
		mc.onChangeProtocolRequest(id, msg)
	case *msgs.ChangeMgmtChannelProtocolConfirmation:
		mc.onChangeProtocolConfirmation(id, msg)

	case *msgs.Disconnect:
		mc.onDisconnect(id)
	case *msgs.KillLink:
		mc.onKillLink()

	case *msgs.Throttle:
		mc.link.flow.Throttle(msg.BytesPerSecond)
	case *msgs.Ack:
		mc.acked(msg.AckId)

	default:
		mc.log().WithField("message", msg).Warn("Ignoring unknown management message")
	}
}

// openChannel requests a DataChannel from the peer and blocks until it is confirmed.
func (mc *ManagementChannel) openChannel(ctx context.Context, protocol string) (*DataChannel, error) {
	l := mc.link
	if l.factory == nil {
		return nil, ErrRejected
	}

	l.recvMutex.Lock()
	channelId, err := l.randomChannelId(func(id uint64) bool {
		mc.stateMutex.Lock()
		defer mc.stateMutex.Unlock()

		_, pending := mc.pendingOpens[id]
		return pending
	})
	l.recvMutex.Unlock()
	if err != nil {
		return nil, err
	}

	handler, ok := l.factory(channelId, protocol)
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q", ErrRejected, protocol)
	}

	pending := &pendingOpen{
		protocol: protocol,
		handler:  handler,
		opened:   make(chan *DataChannel, 1),
	}
	mc.stateMutex.Lock()
	mc.pendingOpens[channelId] = pending
	mc.stateMutex.Unlock()

	requestId, err := mc.request(&msgs.OpenChannelRequest{ChannelId: channelId, Protocol: protocol})
	if err != nil {
		mc.dropPendingOpen(channelId)
		return nil, err
	}

	mc.log().WithFields(log.Fields{
		"id":       channelId,
		"protocol": protocol,
	}).Debug("Requested data channel")

	select {
	case dc := <-pending.opened:
		return dc, nil

	case <-ctx.Done():
		mc.dropPendingOpen(channelId)
		mc.acked(requestId)
		return nil, ctx.Err()

	case <-l.done:
		return nil, ErrClosed
	}
}

func (mc *ManagementChannel) dropPendingOpen(channelId uint64) *pendingOpen {
	mc.stateMutex.Lock()
	defer mc.stateMutex.Unlock()

	pending := mc.pendingOpens[channelId]
	delete(mc.pendingOpens, channelId)
	return pending
}

// changeProtocol requests another management protocol and blocks until confirmed.
func (mc *ManagementChannel) changeProtocol(ctx context.Context, protocol string) error {
	confirmed := make(chan struct{})

	mc.stateMutex.Lock()
	mc.pendingProtocol[protocol] = confirmed
	mc.stateMutex.Unlock()

	defer func() {
		mc.stateMutex.Lock()
		delete(mc.pendingProtocol, protocol)
		mc.stateMutex.Unlock()
	}()

	requestId, err := mc.request(&msgs.ChangeMgmtChannelProtocolRequest{Protocol: protocol})
	if err != nil {
		return err
	}

	select {
	case <-confirmed:
		return nil
	case <-ctx.Done():
		mc.acked(requestId)
		return ctx.Err()
	case <-mc.link.done:
		return ErrClosed
	}
}

func (mc *ManagementChannel) setProtocol(protocol string) {
	mc.stateMutex.Lock()
	defer mc.stateMutex.Unlock()

	mc.protocol = protocol
}
