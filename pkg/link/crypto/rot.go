// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/howeyc/crc16"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// Rot is a demonstration Method rotating each byte by a secret offset. Bodies carry a CRC-16 of their plain content,
// letting a wrong offset be detected.
//
// Rot offers no confidentiality.
type Rot struct{}

func (Rot) Name() string { return "rot" }

// GenerateParams returns one byte, the non-zero offset.
func (Rot) GenerateParams() ([]byte, error) {
	b := make([]byte, 1)
	for b[0] == 0 {
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (Rot) NewTransforms(params []byte) (Transforms, error) {
	if len(params) != 1 || params[0] == 0 {
		return Transforms{}, fmt.Errorf("%w: rot expects one non-zero byte, got %x", ErrInvalidParams, params)
	}

	rt := rotTransform(params[0])
	return Transforms{Header: rt, Body: rt}, nil
}

type rotTransform byte

func (rt rotTransform) rotate(b []byte) {
	for i := range b {
		b[i] += byte(rt)
	}
}

func (rt rotTransform) unrotate(b []byte) {
	for i := range b {
		b[i] -= byte(rt)
	}
}

func (rt rotTransform) Encode(header []byte) { rt.rotate(header) }

func (rt rotTransform) Decode(header []byte) { rt.unrotate(header) }

func (rt rotTransform) Seal(_, _ uint64, plain []byte) []byte {
	sealed := make([]byte, len(plain)+2)
	copy(sealed, plain)
	binary.BigEndian.PutUint16(sealed[len(plain):], crc16.Checksum(plain, crc16table))
	rt.rotate(sealed)
	return sealed
}

func (rt rotTransform) Open(_, _ uint64, sealed []byte) ([]byte, error) {
	if len(sealed) < 2 {
		return nil, fmt.Errorf("%w: rot body of %d bytes is too short", ErrOpen, len(sealed))
	}

	plain := make([]byte, len(sealed))
	copy(plain, sealed)
	rt.unrotate(plain)

	n := len(plain) - 2
	if crc := crc16.Checksum(plain[:n], crc16table); crc != binary.BigEndian.Uint16(plain[n:]) {
		return nil, fmt.Errorf("%w: rot body CRC mismatch", ErrOpen)
	}
	return plain[:n], nil
}
