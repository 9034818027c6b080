// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package crypto provides the pluggable transforms a Link applies to its datagrams.
//
// Each direction of a Link has a HeaderTransform and a BodyTransform. Both are created by a Method from parameters,
// which are generated by the receiving side and transmitted during the handshake.
package crypto

import (
	"errors"
)

var (
	// ErrUnknownMethod is returned for a crypto method name missing in the Registry.
	ErrUnknownMethod = errors.New("unknown crypto method")

	// ErrInvalidParams is returned for parameters not suitable for a Method.
	ErrInvalidParams = errors.New("invalid crypto parameters")

	// ErrOpen is returned if a body could not be decrypted or verified.
	ErrOpen = errors.New("opening body failed")
)

// HeaderTransform masks a Link header in place. It must preserve the length and must not depend on anything but the
// header's bytes and position, because the receiver needs to decode a header before knowing its ids.
type HeaderTransform interface {
	// Encode a plain header in place.
	Encode(header []byte)

	// Decode a masked header prefix in place. The prefix might be longer than the actual header.
	Decode(header []byte)
}

// BodyTransform encrypts a datagram's body. The channel and data id might be used as a nonce.
type BodyTransform interface {
	// Seal a plain body. The result might be longer than the input.
	Seal(channelId, dataId uint64, plain []byte) []byte

	// Open a sealed body or return an error wrapping ErrOpen.
	Open(channelId, dataId uint64, sealed []byte) ([]byte, error)
}

// Transforms of one direction.
type Transforms struct {
	Header HeaderTransform
	Body   BodyTransform
}

// Method creates Transforms for a direction from its parameters.
type Method interface {
	// Name identifies this Method during the handshake.
	Name() string

	// GenerateParams creates fresh random parameters.
	GenerateParams() ([]byte, error)

	// NewTransforms for previously generated parameters.
	NewTransforms(params []byte) (Transforms, error)
}
