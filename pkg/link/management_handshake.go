// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"crypto/rand"
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

// The handshake stages the transforms as follows, A being the initiator and B the responder:
//
//	A: inbound header and body P_A             -> ConnectCrypto(P_A)
//	B: outbound P_A, inbound body P_B,
//	   inbound header P_B staged               -> ConnectCryptoEchoRequest(P_B, unreliable id, nonce)
//	A: outbound body P_B, header P_B staged    -> ConnectEchoReply(nonce)
//	B: inbound header P_B applied              -> ConnectFullEncryptionRequest
//	A: outbound header P_B applied, Connected  -> ConnectConfirmation
//	B: Connected                               -> Ack
//
// Thus, each side only switches a header transform after the peer has proven to be able to handle it.

func randomUint64() (uint64, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// randomUnreliableId returns a non-zero 32-bit channel id.
func randomUnreliableId() (uint64, error) {
	for {
		n, err := randomUint64()
		if err != nil {
			return 0, err
		}
		if id := n & 0xffffffff; id != ManagementChannelId {
			return id, nil
		}
	}
}

// onConnectCrypto is the responder's first step.
func (mc *ManagementChannel) onConnectCrypto(id uint64, msg *msgs.ConnectCrypto) {
	l := mc.link
	if l.Status() != StatusNone {
		mc.log().WithField("status", l.Status()).Debug("Ignoring ConnectCrypto for a started handshake")
		return
	}

	method, err := l.config.Registry.Lookup(msg.Method)
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}

	outbound, err := method.NewTransforms(msg.Params)
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}

	params, err := method.GenerateParams()
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}
	inbound, err := method.NewTransforms(params)
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}

	unreliableId, err := randomUnreliableId()
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}
	nonce, err := randomUint64()
	if err != nil {
		l.terminate(StatusKilled, err)
		return
	}

	if !l.advance(StatusEchoRequested, StatusNone) {
		return
	}

	l.statusMutex.Lock()
	l.method = method
	l.echoNonce = nonce
	l.statusMutex.Unlock()

	l.outHeader.Set(outbound.Header)
	l.outBody.Set(outbound.Body)

	l.recvMutex.Lock()
	l.inBody.Set(inbound.Body)
	l.inHeader.Stage(inbound.Header)
	l.unreliableId.Store(unreliableId)
	l.recvMutex.Unlock()

	mc.log().WithFields(log.Fields{
		"method":     method.Name(),
		"unreliable": unreliableId,
	}).Info("Accepting connection")

	err = mc.reply(id, &msgs.ConnectCryptoEchoRequest{
		Method:              method.Name(),
		Params:              params,
		UnreliableChannelId: unreliableId,
		EchoNonce:           nonce,
	}, false)
	if err != nil {
		mc.log().WithError(err).Warn("Sending ConnectCryptoEchoRequest errored")
	}
}

// onEchoRequest is the initiator's second step.
func (mc *ManagementChannel) onEchoRequest(id uint64, msg *msgs.ConnectCryptoEchoRequest) {
	l := mc.link

	l.statusMutex.Lock()
	status, method := l.status, l.method
	l.statusMutex.Unlock()

	if status != StatusConnectRequested {
		mc.log().WithField("status", status).Debug("Ignoring ConnectCryptoEchoRequest")
		return
	}
	if method == nil || method.Name() != msg.Method {
		mc.log().WithField("method", msg.Method).Warn("Peer answered with another crypto method")
		l.terminate(StatusKilled, ErrKilledByPeer)
		return
	}

	outbound, err := method.NewTransforms(msg.Params)
	if err != nil {
		mc.log().WithError(err).Warn("Peer's crypto parameters are invalid")
		l.terminate(StatusKilled, err)
		return
	}
	if msg.UnreliableChannelId == ManagementChannelId {
		mc.log().Warn("Peer's unreliable channel id collides with the management channel")
		l.terminate(StatusKilled, ErrKilledByPeer)
		return
	}

	if !l.advance(StatusEchoReplied, StatusConnectRequested) {
		return
	}

	mc.answered(msgs.ConnectCryptoType)

	l.outBody.Set(outbound.Body)
	l.outHeader.Stage(outbound.Header)
	l.unreliableId.Store(msg.UnreliableChannelId)

	if err := mc.reply(id, &msgs.ConnectEchoReply{EchoNonce: msg.EchoNonce}, false); err != nil {
		mc.log().WithError(err).Warn("Sending ConnectEchoReply errored")
	}
}

// onEchoReply is the responder's second step.
func (mc *ManagementChannel) onEchoReply(id uint64, msg *msgs.ConnectEchoReply) {
	l := mc.link

	l.statusMutex.Lock()
	status, nonce := l.status, l.echoNonce
	l.statusMutex.Unlock()

	if status != StatusEchoRequested {
		mc.log().WithField("status", status).Debug("Ignoring ConnectEchoReply")
		return
	}
	if msg.EchoNonce != nonce {
		mc.log().WithFields(log.Fields{
			"expected": nonce,
			"received": msg.EchoNonce,
		}).Warn("Ignoring ConnectEchoReply with wrong nonce")
		return
	}

	if !l.advance(StatusFullEncryptionRequested, StatusEchoRequested) {
		return
	}

	mc.answered(msgs.ConnectCryptoEchoRequestType)

	l.recvMutex.Lock()
	l.inHeader.Apply()
	l.recvMutex.Unlock()

	if err := mc.reply(id, &msgs.ConnectFullEncryptionRequest{}, false); err != nil {
		mc.log().WithError(err).Warn("Sending ConnectFullEncryptionRequest errored")
	}
}

// onFullEncryptionRequest is the initiator's last step.
func (mc *ManagementChannel) onFullEncryptionRequest(id uint64) {
	l := mc.link
	if !l.advance(StatusConnected, StatusEchoReplied) {
		return
	}

	mc.answered(msgs.ConnectEchoReplyType)
	l.outHeader.Apply()

	if err := mc.reply(id, &msgs.ConnectConfirmation{}, false); err != nil {
		mc.log().WithError(err).Warn("Sending ConnectConfirmation errored")
	}

	l.onConnected()
}

// onConnectConfirmation is the responder's last step.
func (mc *ManagementChannel) onConnectConfirmation(id uint64) {
	l := mc.link
	if !l.advance(StatusConnected, StatusFullEncryptionRequested) {
		return
	}

	mc.answered(msgs.ConnectFullEncryptionRequestType)
	mc.sendAck(id)

	l.onConnected()
}
