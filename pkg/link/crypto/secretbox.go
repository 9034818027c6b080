// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/salsa20"

	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

// SecretBox is a symmetric Method based on a random 32 byte key per direction. Bodies are sealed by NaCl's secretbox
// with a nonce of channel and data id. Headers are masked by a Salsa20 keystream of a derived key.
type SecretBox struct{}

func (SecretBox) Name() string { return "secretbox" }

func (SecretBox) GenerateParams() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (SecretBox) NewTransforms(params []byte) (Transforms, error) {
	if len(params) != 32 {
		return Transforms{}, fmt.Errorf("%w: secretbox expects a 32 byte key, got %d bytes", ErrInvalidParams, len(params))
	}

	var key [32]byte
	copy(key[:], params)

	// The header key is derived to never share a keystream with the bodies.
	headerKey := sha512.Sum512_256(append([]byte("header"), params...))
	mask := make([]byte, msgs.MaxHeaderLen)
	salsa20.XORKeyStream(mask, mask, make([]byte, 8), &headerKey)

	return Transforms{
		Header: xorMask(mask),
		Body:   &secretBoxBody{key: key},
	}, nil
}

type xorMask []byte

func (m xorMask) apply(b []byte) {
	for i := range b {
		if i >= len(m) {
			return
		}
		b[i] ^= m[i]
	}
}

func (m xorMask) Encode(header []byte) { m.apply(header) }

func (m xorMask) Decode(header []byte) { m.apply(header) }

type secretBoxBody struct {
	key [32]byte
}

func secretBoxNonce(channelId, dataId uint64) *[24]byte {
	nonce := &[24]byte{}
	binary.BigEndian.PutUint64(nonce[0:8], channelId)
	binary.BigEndian.PutUint64(nonce[8:16], dataId)
	return nonce
}

func (sb *secretBoxBody) Seal(channelId, dataId uint64, plain []byte) []byte {
	return secretbox.Seal(nil, plain, secretBoxNonce(channelId, dataId), &sb.key)
}

func (sb *secretBoxBody) Open(channelId, dataId uint64, sealed []byte) ([]byte, error) {
	plain, ok := secretbox.Open(nil, sealed, secretBoxNonce(channelId, dataId), &sb.key)
	if !ok {
		return nil, fmt.Errorf("%w: secretbox authentication failed for channel %d, id %d", ErrOpen, channelId, dataId)
	}
	return plain, nil
}
