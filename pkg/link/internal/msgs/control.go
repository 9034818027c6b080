// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// ChangeMgmtChannelProtocolRequest proposes another management protocol identifier.
type ChangeMgmtChannelProtocolRequest struct {
	Protocol string
}

func (cr *ChangeMgmtChannelProtocolRequest) Command() CommandType {
	return ChangeMgmtChannelProtocolRequestType
}

func (cr *ChangeMgmtChannelProtocolRequest) String() string {
	return fmt.Sprintf("ChangeMgmtChannelProtocolRequest(protocol=%s)", cr.Protocol)
}

func (cr *ChangeMgmtChannelProtocolRequest) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(1, w); err != nil {
		return err
	}
	return cboring.WriteTextString(cr.Protocol, w)
}

func (cr *ChangeMgmtChannelProtocolRequest) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 1, "ChangeMgmtChannelProtocolRequest"); err != nil {
		return
	}
	cr.Protocol, err = cboring.ReadTextString(r)
	return
}

// ChangeMgmtChannelProtocolConfirmation accepts a ChangeMgmtChannelProtocolRequest.
type ChangeMgmtChannelProtocolConfirmation struct {
	AckId    uint64
	Protocol string
}

func (cc *ChangeMgmtChannelProtocolConfirmation) Command() CommandType {
	return ChangeMgmtChannelProtocolConfirmationType
}

func (cc *ChangeMgmtChannelProtocolConfirmation) String() string {
	return fmt.Sprintf("ChangeMgmtChannelProtocolConfirmation(ack=%d, protocol=%s)", cc.AckId, cc.Protocol)
}

func (cc *ChangeMgmtChannelProtocolConfirmation) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(cc.AckId, w); err != nil {
		return err
	}
	return cboring.WriteTextString(cc.Protocol, w)
}

func (cc *ChangeMgmtChannelProtocolConfirmation) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 2, "ChangeMgmtChannelProtocolConfirmation"); err != nil {
		return
	}
	if cc.AckId, err = cboring.ReadUInt(r); err != nil {
		return
	}
	cc.Protocol, err = cboring.ReadTextString(r)
	return
}

// Throttle asks the peer to limit its send rate. Zero means uncapped while measuring.
type Throttle struct {
	BytesPerSecond uint64
}

func (t *Throttle) Command() CommandType { return ThrottleType }

func (t *Throttle) String() string {
	return fmt.Sprintf("Throttle(%d B/s)", t.BytesPerSecond)
}

func (t *Throttle) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(t.BytesPerSecond, w)
}

func (t *Throttle) UnmarshalCbor(r io.Reader) (err error) {
	t.BytesPerSecond, err = cboring.ReadUInt(r)
	return
}

// Ack acknowledges the management message with data id AckId.
type Ack struct {
	AckId uint64
}

func (a *Ack) Command() CommandType { return AckType }

func (a *Ack) String() string {
	return fmt.Sprintf("Ack(%d)", a.AckId)
}

func (a *Ack) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(a.AckId, w)
}

func (a *Ack) UnmarshalCbor(r io.Reader) (err error) {
	a.AckId, err = cboring.ReadUInt(r)
	return
}

// Disconnect starts a graceful teardown.
type Disconnect struct{}

func (*Disconnect) Command() CommandType { return DisconnectType }

func (*Disconnect) String() string { return "Disconnect()" }

func (*Disconnect) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (*Disconnect) UnmarshalCbor(r io.Reader) error {
	return readArrayLength(r, 0, "Disconnect")
}

// KillLink completes a teardown or, unsolicited, forces it.
type KillLink struct{}

func (*KillLink) Command() CommandType { return KillLinkType }

func (*KillLink) String() string { return "KillLink()" }

func (*KillLink) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (*KillLink) UnmarshalCbor(r io.Reader) error {
	return readArrayLength(r, 0, "KillLink")
}
