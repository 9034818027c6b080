// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

func (mc *ManagementChannel) onOpenChannelRequest(id uint64, msg *msgs.OpenChannelRequest) {
	l := mc.link
	logger := mc.log().WithFields(log.Fields{
		"id":       msg.ChannelId,
		"protocol": msg.Protocol,
	})

	if l.Status() != StatusConnected {
		logger.WithField("status", l.Status()).Debug("Ignoring OpenChannelRequest for unconnected link")
		return
	}
	if msg.ChannelId == ManagementChannelId || msg.ChannelId == l.unreliableId.Load() {
		logger.Warn("Rejecting OpenChannelRequest for a reserved channel id")
		return
	}

	if existing, ok := l.Channel(msg.ChannelId); ok {
		if existing.Protocol() == msg.Protocol {
			logger.Debug("Confirming already opened channel again")
			mc.confirmChannel(id, msg)
		} else {
			logger.Warn("Rejecting OpenChannelRequest for a used channel id")
		}
		return
	}

	if l.factory == nil {
		logger.Info("Rejecting OpenChannelRequest, no channel factory")
		return
	}
	handler, ok := l.factory(msg.ChannelId, msg.Protocol)
	if !ok {
		logger.Info("Rejecting OpenChannelRequest for unsupported protocol")
		return
	}

	dc := newDataChannel(l, msg.ChannelId, msg.Protocol, handler)
	if err := l.addChannel(dc); err != nil {
		logger.WithError(err).Warn("Adding data channel errored")
		return
	}
	dc.start()

	logger.Info("Opened data channel on peer's request")
	l.emit(Event{Type: ChannelOpened, Link: l, Channel: dc.id})

	mc.confirmChannel(id, msg)
}

func (mc *ManagementChannel) confirmChannel(id uint64, msg *msgs.OpenChannelRequest) {
	err := mc.reply(id, &msgs.OpenChannelConfirmation{
		AckId:     id,
		ChannelId: msg.ChannelId,
		Protocol:  msg.Protocol,
	}, false)
	if err != nil {
		mc.log().WithError(err).Warn("Sending OpenChannelConfirmation errored")
	}
}

func (mc *ManagementChannel) onOpenChannelConfirmation(id uint64, msg *msgs.OpenChannelConfirmation) {
	l := mc.link
	mc.acked(msg.AckId)
	mc.sendAck(id)

	pending := mc.dropPendingOpen(msg.ChannelId)
	if pending == nil {
		mc.log().WithField("id", msg.ChannelId).Debug("Ignoring OpenChannelConfirmation without pending request")
		return
	}

	dc := newDataChannel(l, msg.ChannelId, pending.protocol, pending.handler)
	if err := l.addChannel(dc); err != nil {
		mc.log().WithError(err).Warn("Adding data channel errored")
		return
	}
	dc.start()

	mc.log().WithFields(log.Fields{
		"id":       dc.id,
		"protocol": dc.protocol,
	}).Info("Opened data channel")
	l.emit(Event{Type: ChannelOpened, Link: l, Channel: dc.id})

	pending.opened <- dc
}

func (mc *ManagementChannel) onBlockStatusRequest(id uint64) {
	l := mc.link
	if l.Status() != StatusConnected && l.Status() != StatusDisconnecting {
		return
	}

	var report msgs.ChannelBlockStatusReport
	for _, cc := range l.channelCores() {
		report.Channels = append(report.Channels, cc.blockStatus())
	}

	if err := mc.reply(id, &report, false); err != nil {
		mc.log().WithError(err).Warn("Sending ChannelBlockStatusReport errored")
	}
}

func (mc *ManagementChannel) onBlockStatusReport(id uint64, msg *msgs.ChannelBlockStatusReport) {
	l := mc.link
	mc.answered(msgs.ChannelBlockStatusRequestType)
	mc.sendAck(id)

	resent := 0
	for _, cbs := range msg.Channels {
		ch, ok := l.Channel(cbs.ChannelId)
		if !ok {
			continue
		}

		resent += ch.(channel).core().reconcile(cbs)
	}

	if resent > 0 {
		mc.log().WithField("resent", resent).Debug("Block status report triggered resends")
	}
}

func (mc *ManagementChannel) onChangeProtocolRequest(id uint64, msg *msgs.ChangeMgmtChannelProtocolRequest) {
	l := mc.link
	if l.Status() != StatusConnected {
		return
	}
	if !l.config.supportsManagementProtocol(msg.Protocol) {
		mc.log().WithField("protocol", msg.Protocol).Info("Rejecting unsupported management protocol")
		return
	}

	mc.setProtocol(msg.Protocol)
	mc.log().WithField("protocol", msg.Protocol).Info("Changed management protocol on peer's request")

	err := mc.reply(id, &msgs.ChangeMgmtChannelProtocolConfirmation{AckId: id, Protocol: msg.Protocol}, false)
	if err != nil {
		mc.log().WithError(err).Warn("Sending ChangeMgmtChannelProtocolConfirmation errored")
	}
}

func (mc *ManagementChannel) onChangeProtocolConfirmation(id uint64, msg *msgs.ChangeMgmtChannelProtocolConfirmation) {
	mc.acked(msg.AckId)
	mc.sendAck(id)

	mc.stateMutex.Lock()
	confirmed, ok := mc.pendingProtocol[msg.Protocol]
	if ok {
		delete(mc.pendingProtocol, msg.Protocol)
		mc.protocol = msg.Protocol
	}
	mc.stateMutex.Unlock()

	if ok {
		mc.log().WithField("protocol", msg.Protocol).Info("Changed management protocol")
		close(confirmed)
	}
}

// onDisconnect answers the peer's graceful teardown by a KillLink, sent before terminating.
func (mc *ManagementChannel) onDisconnect(id uint64) {
	l := mc.link
	if l.Status() != StatusDisconnecting && !l.advance(StatusDisconnecting, StatusConnected) {
		return
	}

	l.mgmtResends.Close()
	l.dataResends.Close()

	if err := mc.reply(id, &msgs.KillLink{}, true); err != nil {
		mc.log().WithError(err).Debug("Sending KillLink errored")
	}

	l.terminate(StatusDisconnected, nil)
}

func (mc *ManagementChannel) onKillLink() {
	l := mc.link
	if l.Status() == StatusDisconnecting {
		l.terminate(StatusDisconnected, nil)
	} else {
		l.terminate(StatusKilled, ErrKilledByPeer)
	}
}
