// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link/internal/backup"
	"github.com/dtn7/dtnlink/pkg/link/internal/flow"
	"github.com/dtn7/dtnlink/pkg/link/internal/ids"
	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
	"github.com/dtn7/dtnlink/pkg/link/internal/reorder"
)

// ManagementChannelId is the channel id of each Link's management channel.
const ManagementChannelId uint64 = 0

// Channel is an independently sequenced sub-stream of a Link.
type Channel interface {
	// Id of this Channel, unique within its Link.
	Id() uint64

	// Protocol identifier negotiated for this Channel.
	Protocol() string

	// Link this Channel belongs to.
	Link() *Link

	// Stats of this Channel.
	Stats() ChannelStats

	// Close this Channel locally.
	Close() error
}

// ChannelStats are counters of a Channel.
type ChannelStats struct {
	Id       uint64
	Protocol string

	BytesIn  uint64
	BytesOut uint64

	// NextSendId is the next outbound data id, Delivered the next expected inbound one.
	NextSendId uint64
	Delivered  uint64

	// Unacknowledged is the amount of retained outbound packets; Buffered the amount of inbound ones waiting for a
	// gap to be filled.
	Unacknowledged int
	Buffered       int
}

// channel is implemented by the Channel types a Link multiplexes.
type channel interface {
	Channel

	core() *channelCore
}

// channelCore is composed into each Channel implementation. It owns both directions' sequencing state and the
// consumer goroutine delivering reassembled payloads.
type channelCore struct {
	link     *Link
	id       uint64
	priority flow.Priority
	resends  *backup.ResendQueue

	sendMutex sync.Mutex
	nextId    uint64
	store     *backup.Store

	recvMutex sync.Mutex
	received  *ids.Collection
	buffer    *reorder.Buffer

	// deliverMutex keeps the order of blocks taken from the buffer while handing them to deliver.
	deliverMutex sync.Mutex
	deliver      chan reorder.Block

	// consume processes a reassembled block within the consumer goroutine.
	consume func(reorder.Block)

	// duplicate handles a received duplicate below the reorder offset; replyId is set if a reply was recorded.
	duplicate func(dataId uint64, plain []byte, replyId uint64, hasReply bool)

	// overflow handles a reorder buffer capacity violation.
	overflow func(err error)

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64

	stopSyn  chan struct{}
	stopAck  chan struct{}
	finished atomic.Bool
}

func newChannelCore(l *Link, id uint64, priority flow.Priority, resends *backup.ResendQueue) *channelCore {
	return &channelCore{
		link:     l,
		id:       id,
		priority: priority,
		resends:  resends,
		store:    backup.NewStore(),
		received: ids.NewCollection(),
		buffer:   reorder.NewBuffer(l.config.ReorderCapacity, 0),
		deliver:  make(chan reorder.Block, l.config.DeliveryQueue),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
}

func (cc *channelCore) log() *log.Entry {
	return cc.link.log().WithField("channel", cc.id)
}

// start the consumer goroutine.
func (cc *channelCore) start() {
	go cc.handle()
}

func (cc *channelCore) handle() {
	defer close(cc.stopAck)

	for {
		select {
		case <-cc.stopSyn:
			return

		case block := <-cc.deliver:
			cc.consume(block)
		}
	}
}

// stop the consumer goroutine. False is returned if it was already stopped.
func (cc *channelCore) stop() bool {
	if !cc.finished.CompareAndSwap(false, true) {
		return false
	}

	close(cc.stopSyn)
	return true
}

// wait for a stopped consumer goroutine to finish. Calling wait from within the consumer goroutine blocks forever.
func (cc *channelCore) wait() {
	<-cc.stopAck
}

// send a plain payload reliably and return its data id.
func (cc *channelCore) send(plain []byte, wait bool) (uint64, error) {
	if cc.finished.Load() {
		return 0, ErrChannelClosed
	}
	if cc.link.Status().Terminal() {
		return 0, ErrClosed
	}

	cc.sendMutex.Lock()
	dataId := cc.nextId
	cc.nextId++

	sealed := cc.link.outBody.Active().Seal(cc.id, dataId, plain)
	header := msgs.Header{ChannelId: cc.id, DataId: dataId, Length: uint64(len(sealed))}.Bytes()

	b := cc.store.Put(dataId, cc.id, cc.priority)
	b.Data = append(header, sealed...)
	b.HeaderLen = len(header)
	b.MarkReady()
	cc.sendMutex.Unlock()

	cc.bytesOut.Add(uint64(len(plain)))

	err := cc.link.transmit(b, wait)
	if !errors.Is(err, ErrClosed) {
		cc.resends.Schedule(b)
	}
	return dataId, err
}

// receive a datagram's body for this channel.
func (cc *channelCore) receive(dataId uint64, body []byte) {
	if cc.finished.Load() {
		return
	}

	plain, err := cc.link.inBody.Active().Open(cc.id, dataId, body)
	if err != nil {
		cc.log().WithError(err).WithField("id", dataId).Debug("Dropping undecryptable packet")
		return
	}

	cc.recvMutex.Lock()

	status, err := cc.buffer.Put(dataId, plain)
	if err != nil {
		cc.recvMutex.Unlock()
		cc.log().WithError(err).WithField("id", dataId).Warn("Reorder buffer overflow")
		cc.overflow(err)
		return
	}

	switch status {
	case reorder.Duplicate:
		replyId, hasReply := cc.buffer.Reply(dataId)
		below := dataId < cc.buffer.Offset()
		cc.recvMutex.Unlock()

		cc.log().WithField("id", dataId).Debug("Received duplicate packet")
		if below && cc.duplicate != nil {
			cc.duplicate(dataId, plain, replyId, hasReply)
		}

	case reorder.Buffered:
		cc.received.Add(dataId)
		cc.recvMutex.Unlock()

		cc.bytesIn.Add(uint64(len(plain)))
		cc.link.onGap()

	case reorder.Ready:
		cc.received.Add(dataId)
		var blocks []reorder.Block
		for block, ok := cc.buffer.Next(); ok; block, ok = cc.buffer.Next() {
			blocks = append(blocks, block)
		}

		// Acquiring the deliverMutex before releasing the recvMutex keeps the order between concurrent receivers.
		cc.deliverMutex.Lock()
		cc.recvMutex.Unlock()

		cc.bytesIn.Add(uint64(len(plain)))
		for _, block := range blocks {
			select {
			case cc.deliver <- block:
			case <-cc.stopSyn:
				cc.deliverMutex.Unlock()
				return
			}
		}
		cc.deliverMutex.Unlock()
	}
}

// setReply records the data id of the reply to a delivered inbound id.
func (cc *channelCore) setReply(dataId, replyId uint64) {
	cc.recvMutex.Lock()
	defer cc.recvMutex.Unlock()

	cc.buffer.SetReply(dataId, replyId)
}

// blockStatus summarizes this channel's received ids for a block status report.
func (cc *channelCore) blockStatus() msgs.ChannelBlockStatus {
	cc.recvMutex.Lock()
	defer cc.recvMutex.Unlock()

	cbs := msgs.ChannelBlockStatus{
		ChannelId: cc.id,
		NumIds:    cc.received.NumIds(),
	}
	if cbs.NumIds == 0 {
		return cbs
	}

	cbs.LowestId, _ = cc.received.LowestId()
	cbs.HighestId, _ = cc.received.HighestId()

	singles, blocks := cc.received.Gaps()
	cbs.MissingSingles = singles
	for _, block := range blocks {
		cbs.MissingBlocks = append(cbs.MissingBlocks, msgs.IdBlock{Start: block.Start, Count: block.Len()})
	}
	return cbs
}

// reconcile the outbound packets against the peer's block status.
func (cc *channelCore) reconcile(cbs msgs.ChannelBlockStatus) (resent int) {
	cc.sendMutex.Lock()
	nextId := cc.nextId
	cc.sendMutex.Unlock()

	r := reconcile(nextId, cbs)

	if r.Clear {
		cc.store.ClearUpTo(r.ClearUpTo)
	}
	for _, acked := range r.Acked {
		cc.store.Clear(acked.Start, acked.Count)
	}

	for _, id := range r.Resend {
		if b, ok := cc.store.Get(id); ok && b.Ready() {
			cc.resends.Expedite(b)
			resent++
		}
	}

	if resent > 0 || r.Clear {
		cc.log().WithFields(log.Fields{
			"resend":      resent,
			"clear":       r.Clear,
			"clear-up-to": r.ClearUpTo,
		}).Debug("Reconciled block status")
	}
	return
}

func (cc *channelCore) stats() ChannelStats {
	cc.sendMutex.Lock()
	nextId := cc.nextId
	cc.sendMutex.Unlock()

	cc.recvMutex.Lock()
	delivered := cc.buffer.Offset()
	buffered, _ := cc.buffer.Pending()
	cc.recvMutex.Unlock()

	return ChannelStats{
		Id:             cc.id,
		BytesIn:        cc.bytesIn.Load(),
		BytesOut:       cc.bytesOut.Load(),
		NextSendId:     nextId,
		Delivered:      delivered,
		Unacknowledged: cc.store.Len(),
		Buffered:       buffered,
	}
}

// clearAll drops every retained outbound packet, stopping their resends.
func (cc *channelCore) clearAll() {
	cc.sendMutex.Lock()
	nextId := cc.nextId
	cc.sendMutex.Unlock()

	if nextId > 0 {
		cc.store.ClearUpTo(nextId - 1)
	}
}
