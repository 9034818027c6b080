// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

// Status of a Link. The handshake advances the Status monotonically.
type Status int

const (
	// StatusNone is the initial Status before any handshake message.
	StatusNone Status = iota

	// StatusConnectRequested is an initiator which sent ConnectCrypto.
	StatusConnectRequested

	// StatusEchoReplied is an initiator which answered the peer's echo request.
	StatusEchoReplied

	// StatusEchoRequested is a responder which answered ConnectCrypto.
	StatusEchoRequested

	// StatusFullEncryptionRequested is a responder which requested full encryption.
	StatusFullEncryptionRequested

	// StatusConnected is an established Link.
	StatusConnected

	// StatusDisconnecting is a Link waiting for the peer's KillLink after sending Disconnect.
	StatusDisconnecting

	// StatusDisconnected is a gracefully closed Link.
	StatusDisconnected

	// StatusKilled is a Link closed by force.
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusConnectRequested:
		return "connect requested"
	case StatusEchoReplied:
		return "echo replied"
	case StatusEchoRequested:
		return "echo requested"
	case StatusFullEncryptionRequested:
		return "full encryption requested"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Terminal reports a closed Link.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusKilled
}

// Handshaking reports a Link within the handshake.
func (s Status) Handshaking() bool {
	switch s {
	case StatusConnectRequested, StatusEchoReplied, StatusEchoRequested, StatusFullEncryptionRequested:
		return true
	default:
		return false
	}
}

// rank orders the Status values along both handshake paths.
func (s Status) rank() int {
	switch s {
	case StatusNone:
		return 0
	case StatusConnectRequested, StatusEchoRequested:
		return 1
	case StatusEchoReplied, StatusFullEncryptionRequested:
		return 2
	case StatusConnected:
		return 3
	case StatusDisconnecting:
		return 4
	default:
		return 5
	}
}

// canAdvance checks if a transition from s to next is allowed: never backwards and never between the two handshake
// paths.
func (s Status) canAdvance(next Status) bool {
	if s.Terminal() || next.rank() <= s.rank() {
		return false
	}

	initiator := s == StatusConnectRequested || s == StatusEchoReplied
	responder := s == StatusEchoRequested || s == StatusFullEncryptionRequested
	switch next {
	case StatusEchoReplied:
		return s == StatusConnectRequested
	case StatusFullEncryptionRequested:
		return s == StatusEchoRequested
	case StatusEchoRequested:
		return !initiator
	case StatusConnectRequested:
		return !responder
	default:
		return true
	}
}
