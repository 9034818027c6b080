// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// MaxHeaderLen is the largest encoded Header: three CBOR unsigned integers of nine bytes each.
const MaxHeaderLen = 27

// Header precedes each Link datagram's body.
type Header struct {
	ChannelId uint64
	DataId    uint64
	Length    uint64
}

func (h Header) String() string {
	return fmt.Sprintf("Header(channel=%d, id=%d, length=%d)", h.ChannelId, h.DataId, h.Length)
}

// MarshalCbor writes the three fields as consecutive CBOR unsigned integers, without an enclosing array.
func (h *Header) MarshalCbor(w io.Writer) error {
	for _, f := range []uint64{h.ChannelId, h.DataId, h.Length} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads three consecutive CBOR unsigned integers.
func (h *Header) UnmarshalCbor(r io.Reader) error {
	for _, f := range []*uint64{&h.ChannelId, &h.DataId, &h.Length} {
		n, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*f = n
	}
	return nil
}

// Bytes of the encoded Header.
func (h Header) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, MaxHeaderLen))
	// Writing into a bytes.Buffer cannot fail.
	_ = h.MarshalCbor(buf)
	return buf.Bytes()
}

// ParseHeader from the beginning of a datagram and return the amount of consumed bytes.
func ParseHeader(data []byte) (h Header, n int, err error) {
	r := bytes.NewReader(data)
	if err = h.UnmarshalCbor(r); err != nil {
		err = fmt.Errorf("parsing link header: %w", err)
		return
	}

	n = len(data) - r.Len()
	return
}
