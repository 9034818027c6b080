// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// OpenChannelRequest proposes a new data channel for a protocol.
type OpenChannelRequest struct {
	ChannelId uint64
	Protocol  string
}

func (ocr *OpenChannelRequest) Command() CommandType { return OpenChannelRequestType }

func (ocr *OpenChannelRequest) String() string {
	return fmt.Sprintf("OpenChannelRequest(channel=%d, protocol=%s)", ocr.ChannelId, ocr.Protocol)
}

func (ocr *OpenChannelRequest) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(2, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(ocr.ChannelId, w); err != nil {
		return
	}
	return cboring.WriteTextString(ocr.Protocol, w)
}

func (ocr *OpenChannelRequest) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 2, "OpenChannelRequest"); err != nil {
		return
	}
	if ocr.ChannelId, err = cboring.ReadUInt(r); err != nil {
		return
	}
	ocr.Protocol, err = cboring.ReadTextString(r)
	return
}

// OpenChannelConfirmation accepts an OpenChannelRequest, referred by its data id as AckId.
type OpenChannelConfirmation struct {
	AckId     uint64
	ChannelId uint64
	Protocol  string
}

func (occ *OpenChannelConfirmation) Command() CommandType { return OpenChannelConfirmationType }

func (occ *OpenChannelConfirmation) String() string {
	return fmt.Sprintf("OpenChannelConfirmation(ack=%d, channel=%d, protocol=%s)",
		occ.AckId, occ.ChannelId, occ.Protocol)
}

func (occ *OpenChannelConfirmation) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(3, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(occ.AckId, w); err != nil {
		return
	}
	if err = cboring.WriteUInt(occ.ChannelId, w); err != nil {
		return
	}
	return cboring.WriteTextString(occ.Protocol, w)
}

func (occ *OpenChannelConfirmation) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 3, "OpenChannelConfirmation"); err != nil {
		return
	}
	if occ.AckId, err = cboring.ReadUInt(r); err != nil {
		return
	}
	if occ.ChannelId, err = cboring.ReadUInt(r); err != nil {
		return
	}
	occ.Protocol, err = cboring.ReadTextString(r)
	return
}
