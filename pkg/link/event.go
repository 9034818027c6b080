// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import "fmt"

// EventType indicates the kind of an Event.
type EventType uint

const (
	// Connected is sent after the handshake finished.
	Connected EventType = iota

	// Disconnected is sent after a graceful teardown.
	Disconnected

	// Killed is sent after a forced teardown, initiated locally or by the peer.
	Killed

	// ChannelOpened is sent for each new data channel.
	ChannelOpened

	// ChannelClosed is sent for each closed data channel.
	ChannelClosed

	// DeliveryFailed is sent if a packet's resends were exhausted.
	DeliveryFailed
)

func (et EventType) String() string {
	switch et {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Killed:
		return "Killed"
	case ChannelOpened:
		return "Channel Opened"
	case ChannelClosed:
		return "Channel Closed"
	case DeliveryFailed:
		return "Delivery Failed"
	default:
		return "Unknown Type"
	}
}

// Event informs a Link's owner about changes.
type Event struct {
	Type EventType
	Link *Link

	// Channel is the related channel id, if any.
	Channel uint64

	// Err is the cause of Killed, ChannelClosed or DeliveryFailed, if known.
	Err error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%v event of %v, channel %d: %v", e.Type, e.Link, e.Channel, e.Err)
	}
	return fmt.Sprintf("%v event of %v, channel %d", e.Type, e.Link, e.Channel)
}
