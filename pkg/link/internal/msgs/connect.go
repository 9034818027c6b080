// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ConnectCrypto starts the handshake. It carries the crypto method and the parameters the initiator expects for its
// inbound direction.
type ConnectCrypto struct {
	Method string
	Params []byte
}

func (cc *ConnectCrypto) Command() CommandType { return ConnectCryptoType }

func (cc *ConnectCrypto) String() string {
	return fmt.Sprintf("ConnectCrypto(method=%s, params=%d bytes)", cc.Method, len(cc.Params))
}

func (cc *ConnectCrypto) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(2, w); err != nil {
		return
	}
	if err = cboring.WriteTextString(cc.Method, w); err != nil {
		return
	}
	return cboring.WriteByteString(cc.Params, w)
}

func (cc *ConnectCrypto) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 2, "ConnectCrypto"); err != nil {
		return
	}
	if cc.Method, err = cboring.ReadTextString(r); err != nil {
		return
	}
	cc.Params, err = cboring.ReadByteString(r)
	return
}

// ConnectCryptoEchoRequest answers ConnectCrypto with the responder's parameters, the unreliable channel id and a nonce
// to be echoed.
type ConnectCryptoEchoRequest struct {
	Method              string
	Params              []byte
	UnreliableChannelId uint64
	EchoNonce           uint64
}

func (cer *ConnectCryptoEchoRequest) Command() CommandType { return ConnectCryptoEchoRequestType }

func (cer *ConnectCryptoEchoRequest) String() string {
	return fmt.Sprintf("ConnectCryptoEchoRequest(method=%s, params=%d bytes, unreliable=%d, nonce=%d)",
		cer.Method, len(cer.Params), cer.UnreliableChannelId, cer.EchoNonce)
}

func (cer *ConnectCryptoEchoRequest) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(4, w); err != nil {
		return
	}
	if err = cboring.WriteTextString(cer.Method, w); err != nil {
		return
	}
	if err = cboring.WriteByteString(cer.Params, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(cer.UnreliableChannelId, w); err != nil {
		return
	}
	return cboring.WriteUInt(cer.EchoNonce, w)
}

func (cer *ConnectCryptoEchoRequest) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 4, "ConnectCryptoEchoRequest"); err != nil {
		return
	}
	if cer.Method, err = cboring.ReadTextString(r); err != nil {
		return
	}
	if cer.Params, err = cboring.ReadByteString(r); err != nil {
		return
	}
	if cer.UnreliableChannelId, err = cboring.ReadUInt(r); err != nil {
		return
	}
	cer.EchoNonce, err = cboring.ReadUInt(r)
	return
}

// ConnectEchoReply proves the reception of the responder's parameters by echoing its nonce.
type ConnectEchoReply struct {
	EchoNonce uint64
}

func (cer *ConnectEchoReply) Command() CommandType { return ConnectEchoReplyType }

func (cer *ConnectEchoReply) String() string {
	return fmt.Sprintf("ConnectEchoReply(nonce=%d)", cer.EchoNonce)
}

func (cer *ConnectEchoReply) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(1, w); err != nil {
		return
	}
	return cboring.WriteUInt(cer.EchoNonce, w)
}

func (cer *ConnectEchoReply) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 1, "ConnectEchoReply"); err != nil {
		return
	}
	cer.EchoNonce, err = cboring.ReadUInt(r)
	return
}

// ConnectFullEncryptionRequest is the first message whose header uses the responder's new inbound transform.
type ConnectFullEncryptionRequest struct{}

func (*ConnectFullEncryptionRequest) Command() CommandType { return ConnectFullEncryptionRequestType }

func (*ConnectFullEncryptionRequest) String() string { return "ConnectFullEncryptionRequest()" }

func (*ConnectFullEncryptionRequest) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (*ConnectFullEncryptionRequest) UnmarshalCbor(r io.Reader) error {
	return readArrayLength(r, 0, "ConnectFullEncryptionRequest")
}

// ConnectConfirmation completes the handshake.
type ConnectConfirmation struct{}

func (*ConnectConfirmation) Command() CommandType { return ConnectConfirmationType }

func (*ConnectConfirmation) String() string { return "ConnectConfirmation()" }

func (*ConnectConfirmation) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (*ConnectConfirmation) UnmarshalCbor(r io.Reader) error {
	return readArrayLength(r, 0, "ConnectConfirmation")
}
