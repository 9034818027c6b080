// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reorder buffers out-of-order payloads until they become contiguous.
package reorder

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the amount of outstanding ids a Buffer can hold beyond its offset.
const DefaultCapacity = 1024

// ErrCapacityExceeded is returned for an id too far ahead of the Buffer's offset. The owning channel cannot recover
// from this state and must be failed.
var ErrCapacityExceeded = errors.New("reorder buffer capacity exceeded")

// Status of a Put operation.
type Status int

const (
	// Buffered indicates a stored block while a gap remains before it.
	Buffered Status = iota

	// Ready indicates the block at the offset is present; call Next until it returns false.
	Ready

	// Duplicate indicates an id already delivered or already buffered.
	Duplicate
)

func (s Status) String() string {
	switch s {
	case Buffered:
		return "buffered"
	case Ready:
		return "ready"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Block is a buffered payload for an id.
type Block struct {
	Id   uint64
	Data []byte
}

type slot struct {
	present bool
	block   Block
}

type reply struct {
	valid   bool
	id      uint64
	replyId uint64
}

// Buffer reassembles a stream of ids starting at an offset. Arrived blocks are kept in a ring of a fixed capacity.
// Additionally, for each delivered id the id of an answering packet might be recorded, allowing duplicates to be
// answered by replaying the previous reply instead of reprocessing them.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	capacity uint64
	offset   uint64

	slots   []slot
	replies []reply

	pending      int
	pendingBytes int
}

// NewBuffer with a capacity, expecting offset as its next id.
func NewBuffer(capacity int, offset uint64) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{
		capacity: uint64(capacity),
		offset:   offset,
		slots:    make([]slot, capacity),
		replies:  make([]reply, capacity),
	}
}

// Offset is the next id expected in order.
func (b *Buffer) Offset() uint64 {
	return b.offset
}

// Pending returns the amount and the total length of buffered but not yet taken blocks.
func (b *Buffer) Pending() (count, bytes int) {
	return b.pending, b.pendingBytes
}

// HasGap reports blocks waiting behind a missing id.
func (b *Buffer) HasGap() bool {
	return b.pending > 0 && !b.slots[b.offset%b.capacity].present
}

// Put a block for an id. An ErrCapacityExceeded is returned for ids beyond offset + capacity.
func (b *Buffer) Put(id uint64, data []byte) (Status, error) {
	if id < b.offset {
		return Duplicate, nil
	}
	if id-b.offset >= b.capacity {
		return Buffered, fmt.Errorf("%w: id %d, offset %d, capacity %d", ErrCapacityExceeded, id, b.offset, b.capacity)
	}

	s := &b.slots[id%b.capacity]
	if s.present {
		return Duplicate, nil
	}

	s.present = true
	s.block = Block{Id: id, Data: data}
	b.pending++
	b.pendingBytes += len(data)

	if b.slots[b.offset%b.capacity].present {
		return Ready, nil
	}
	return Buffered, nil
}

// Next takes the block at the offset, if present, and advances the offset.
func (b *Buffer) Next() (Block, bool) {
	s := &b.slots[b.offset%b.capacity]
	if !s.present {
		return Block{}, false
	}

	block := s.block
	*s = slot{}
	b.pending--
	b.pendingBytes -= len(block.Data)
	b.offset++

	return block, true
}

// SetReply records replyId as the answer to an already delivered id.
func (b *Buffer) SetReply(id, replyId uint64) {
	if id >= b.offset || b.offset-id > b.capacity {
		return
	}
	b.replies[id%b.capacity] = reply{valid: true, id: id, replyId: replyId}
}

// Reply returns the recorded answer of a delivered id, if it is still cached.
func (b *Buffer) Reply(id uint64) (uint64, bool) {
	if id >= b.offset {
		return 0, false
	}
	r := b.replies[id%b.capacity]
	if !r.valid || r.id != id {
		return 0, false
	}
	return r.replyId, true
}
