// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"fmt"

	"github.com/dtn7/dtnlink/pkg/link/internal/flow"
	"github.com/dtn7/dtnlink/pkg/link/internal/reorder"
)

// Handler consumes a DataChannel's inbound payloads.
type Handler interface {
	// Receive is called for each payload, in order. Subsequent payloads are held back until Receive returns.
	Receive(ch *DataChannel, data []byte)

	// Closed is called once after the DataChannel was closed. The error is nil for a regular close.
	Closed(ch *DataChannel, err error)
}

// HandlerFunc adapts a function to a Handler which ignores closing.
type HandlerFunc func(ch *DataChannel, data []byte)

func (f HandlerFunc) Receive(ch *DataChannel, data []byte) { f(ch, data) }

func (HandlerFunc) Closed(*DataChannel, error) {}

// ChannelFactory supplies the Handler for a new DataChannel. It is consulted both for channels requested by the peer
// and for those opened locally. Returning false rejects the channel.
type ChannelFactory func(channelId uint64, protocol string) (Handler, bool)

// DataChannel carries application payloads of one protocol.
type DataChannel struct {
	*channelCore

	protocol string
	handler  Handler
}

func newDataChannel(l *Link, id uint64, protocol string, handler Handler) *DataChannel {
	dc := &DataChannel{
		channelCore: newChannelCore(l, id, flow.PriorityData, l.dataResends),
		protocol:    protocol,
		handler:     handler,
	}
	dc.consume = dc.consumeBlock
	dc.overflow = dc.fail
	return dc
}

func (dc *DataChannel) Id() uint64 { return dc.id }

func (dc *DataChannel) Protocol() string { return dc.protocol }

func (dc *DataChannel) Link() *Link { return dc.link }

func (dc *DataChannel) core() *channelCore { return dc.channelCore }

func (dc *DataChannel) Stats() ChannelStats {
	stats := dc.stats()
	stats.Protocol = dc.protocol
	return stats
}

func (dc *DataChannel) String() string {
	return fmt.Sprintf("data channel %d (%s) of %v", dc.id, dc.protocol, dc.link)
}

func (dc *DataChannel) consumeBlock(block reorder.Block) {
	dc.handler.Receive(dc, block.Data)
}

// Send a payload, split into packets of at most the configured MaxPayload. If wait is set, Send blocks until each
// packet was handed to the substrate.
func (dc *DataChannel) Send(data []byte, wait bool) error {
	maxPayload := dc.link.config.MaxPayload

	for len(data) > 0 {
		n := len(data)
		if n > maxPayload {
			n = maxPayload
		}

		chunk := make([]byte, n)
		copy(chunk, data[:n])
		if _, err := dc.send(chunk, wait); err != nil {
			return err
		}

		data = data[n:]
	}
	return nil
}

// Write implements io.Writer by a non-blocking Send.
func (dc *DataChannel) Write(p []byte) (int, error) {
	if err := dc.Send(p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close this DataChannel locally. Pending retransmissions are dropped.
func (dc *DataChannel) Close() error {
	return dc.closeWith(nil)
}

func (dc *DataChannel) fail(err error) {
	_ = dc.closeWith(err)
}

func (dc *DataChannel) closeWith(err error) error {
	if !dc.stop() {
		return ErrChannelClosed
	}

	dc.clearAll()
	dc.link.removeChannel(dc.id)

	dc.handler.Closed(dc, err)
	dc.link.emit(Event{Type: ChannelClosed, Link: dc.link, Channel: dc.id, Err: err})

	if err != nil {
		dc.log().WithError(err).Warn("Data channel failed")
	} else {
		dc.log().Debug("Data channel closed")
	}
	return nil
}
