// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
)

// ChannelBlockStatusRequest asks the peer for a ChannelBlockStatusReport of all channels.
type ChannelBlockStatusRequest struct{}

func (*ChannelBlockStatusRequest) Command() CommandType { return ChannelBlockStatusRequestType }

func (*ChannelBlockStatusRequest) String() string { return "ChannelBlockStatusRequest()" }

func (*ChannelBlockStatusRequest) MarshalCbor(w io.Writer) error {
	return cboring.WriteArrayLength(0, w)
}

func (*ChannelBlockStatusRequest) UnmarshalCbor(r io.Reader) error {
	return readArrayLength(r, 0, "ChannelBlockStatusRequest")
}

// IdBlock is a run of Count missing ids, starting at Start.
type IdBlock struct {
	Start uint64
	Count uint64
}

// ChannelBlockStatus summarizes the received ids of one channel.
type ChannelBlockStatus struct {
	ChannelId uint64
	LowestId  uint64
	HighestId uint64
	NumIds    uint64

	MissingSingles []uint64
	MissingBlocks  []IdBlock
}

func (cbs ChannelBlockStatus) String() string {
	return fmt.Sprintf("channel %d: %d ids [%d, %d], missing %v %v",
		cbs.ChannelId, cbs.NumIds, cbs.LowestId, cbs.HighestId, cbs.MissingSingles, cbs.MissingBlocks)
}

func (cbs *ChannelBlockStatus) MarshalCbor(w io.Writer) (err error) {
	if err = cboring.WriteArrayLength(6, w); err != nil {
		return
	}

	for _, f := range []uint64{cbs.ChannelId, cbs.LowestId, cbs.HighestId, cbs.NumIds} {
		if err = cboring.WriteUInt(f, w); err != nil {
			return
		}
	}

	if err = cboring.WriteArrayLength(uint64(len(cbs.MissingSingles)), w); err != nil {
		return
	}
	for _, id := range cbs.MissingSingles {
		if err = cboring.WriteUInt(id, w); err != nil {
			return
		}
	}

	if err = cboring.WriteArrayLength(uint64(len(cbs.MissingBlocks)), w); err != nil {
		return
	}
	for _, block := range cbs.MissingBlocks {
		if err = cboring.WriteArrayLength(2, w); err != nil {
			return
		}
		if err = cboring.WriteUInt(block.Start, w); err != nil {
			return
		}
		if err = cboring.WriteUInt(block.Count, w); err != nil {
			return
		}
	}

	return
}

func (cbs *ChannelBlockStatus) UnmarshalCbor(r io.Reader) (err error) {
	if err = readArrayLength(r, 6, "ChannelBlockStatus"); err != nil {
		return
	}

	for _, f := range []*uint64{&cbs.ChannelId, &cbs.LowestId, &cbs.HighestId, &cbs.NumIds} {
		if *f, err = cboring.ReadUInt(r); err != nil {
			return
		}
	}

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return
	}
	cbs.MissingSingles = nil
	for i := uint64(0); i < n; i++ {
		id, idErr := cboring.ReadUInt(r)
		if idErr != nil {
			return idErr
		}
		cbs.MissingSingles = append(cbs.MissingSingles, id)
	}

	if n, err = cboring.ReadArrayLength(r); err != nil {
		return
	}
	cbs.MissingBlocks = nil
	for i := uint64(0); i < n; i++ {
		var block IdBlock
		if err = readArrayLength(r, 2, "IdBlock"); err != nil {
			return
		}
		if block.Start, err = cboring.ReadUInt(r); err != nil {
			return
		}
		if block.Count, err = cboring.ReadUInt(r); err != nil {
			return
		}
		cbs.MissingBlocks = append(cbs.MissingBlocks, block)
	}

	return
}

// ChannelBlockStatusReport answers a ChannelBlockStatusRequest.
type ChannelBlockStatusReport struct {
	Channels []ChannelBlockStatus
}

func (*ChannelBlockStatusReport) Command() CommandType { return ChannelBlockStatusReportType }

func (cbsr *ChannelBlockStatusReport) String() string {
	var builder strings.Builder

	_, _ = fmt.Fprint(&builder, "ChannelBlockStatusReport(")
	for i, cbs := range cbsr.Channels {
		if i > 0 {
			_, _ = fmt.Fprint(&builder, "; ")
		}
		_, _ = fmt.Fprint(&builder, cbs.String())
	}
	_, _ = fmt.Fprint(&builder, ")")

	return builder.String()
}

func (cbsr *ChannelBlockStatusReport) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(cbsr.Channels)), w); err != nil {
		return err
	}
	for i := range cbsr.Channels {
		if err := cboring.Marshal(&cbsr.Channels[i], w); err != nil {
			return err
		}
	}
	return nil
}

func (cbsr *ChannelBlockStatusReport) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	cbsr.Channels = nil
	for i := uint64(0); i < n; i++ {
		var cbs ChannelBlockStatus
		if err := cboring.Unmarshal(&cbs, r); err != nil {
			return err
		}
		cbsr.Channels = append(cbsr.Channels, cbs)
	}
	return nil
}
