// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package substrate provides datagram transports for Links: plain UDP, WebSocket binary messages and QUIC datagrams.
//
// A Substrate only moves whole datagrams. It neither orders nor retransmits them; this is the Link's business.
package substrate

import (
	"errors"
	"net"
)

// ErrClosed is returned for operations on a closed Substrate.
var ErrClosed = errors.New("substrate is closed")

// ErrUnknownPeer is returned when sending to an address without an established connection.
var ErrUnknownPeer = errors.New("no connection to peer")

// Handler is called for each received datagram. The datagram must not be retained after returning.
type Handler func(datagram []byte, src net.Addr)

// Substrate sends and receives datagrams. It satisfies the link.Sink interface.
type Substrate interface {
	// Start receiving datagrams, passing each to the Handler.
	Start(handler Handler) error

	// Send a datagram to a peer.
	Send(b []byte, dst net.Addr) error

	// Close this Substrate and all its connections.
	Close() error

	// String describes this Substrate for logging.
	String() string
}
