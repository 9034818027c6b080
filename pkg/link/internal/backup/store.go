// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package backup retains sent datagrams until the peer acknowledged them and schedules their retransmission.
package backup

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtn7/dtnlink/pkg/link/internal/flow"
)

// Backup of an outbound packet. Its Data is filled by the caller, which must call MarkReady afterwards.
type Backup struct {
	Id        uint64
	ChannelId uint64
	Priority  flow.Priority

	// Data holds the serialized packet. HeaderLen marks the plain header prefix, which gets transformed on each
	// transmission.
	Data      []byte
	HeaderLen int

	ready   atomic.Bool
	cleared atomic.Bool

	// Scheduling fields, guarded by the ResendQueue.
	due      time.Time
	interval time.Duration
	retries  int
	index    int
	queued   bool
}

// MarkReady flags a filled Backup as transmittable.
func (b *Backup) MarkReady() {
	b.ready.Store(true)
}

// Ready reports if MarkReady was called.
func (b *Backup) Ready() bool {
	return b.ready.Load()
}

// Cleared reports an acknowledged or otherwise dropped Backup, which must not be resent anymore.
func (b *Backup) Cleared() bool {
	return b.cleared.Load()
}

// Clear this Backup, e.g., after an explicit acknowledgement.
func (b *Backup) Clear() {
	b.cleared.Store(true)
}

// Collection of Backups for one channel and direction.
type Collection interface {
	// Put allocates a Backup for a new id.
	Put(id, channelId uint64, priority flow.Priority) *Backup

	// Get a retained Backup.
	Get(id uint64) (*Backup, bool)

	// ClearUpTo drops all Backups with an id less or equal to id and returns the amount of dropped Backups.
	ClearUpTo(id uint64) int

	// Clear drops the Backups of [start, start+count) and returns the amount of dropped Backups.
	Clear(start, count uint64) int

	// Ids of all retained Backups, ascending.
	Ids() []uint64

	// Len is the amount of retained Backups.
	Len() int
}

// Store retains Backups until they are cleared. Clearing up to an id is monotonic: the Store never accepts ids at or
// below a previous ClearUpTo again.
type Store struct {
	mutex   sync.Mutex
	backups map[uint64]*Backup
	floor   uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{backups: make(map[uint64]*Backup)}
}

// Put allocates a Backup. An id below the cleared floor results in an already cleared Backup, which is not retained.
func (s *Store) Put(id, channelId uint64, priority flow.Priority) *Backup {
	b := &Backup{Id: id, ChannelId: channelId, Priority: priority, index: -1}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if id < s.floor {
		b.Clear()
		return b
	}

	if old, ok := s.backups[id]; ok {
		old.Clear()
	}
	s.backups[id] = b
	return b
}

func (s *Store) Get(id uint64) (*Backup, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, ok := s.backups[id]
	return b, ok
}

func (s *Store) ClearUpTo(id uint64) (n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if id+1 <= s.floor {
		return 0
	}

	for bid, b := range s.backups {
		if bid <= id {
			b.Clear()
			delete(s.backups, bid)
			n++
		}
	}
	s.floor = id + 1
	return
}

func (s *Store) Clear(start, count uint64) (n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if uint64(len(s.backups)) < count {
		for bid, b := range s.backups {
			if bid >= start && bid-start < count {
				b.Clear()
				delete(s.backups, bid)
				n++
			}
		}
		return
	}

	for bid := start; bid-start < count; bid++ {
		if b, ok := s.backups[bid]; ok {
			b.Clear()
			delete(s.backups, bid)
			n++
		}
	}
	return
}

func (s *Store) Ids() []uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := make([]uint64, 0, len(s.backups))
	for id := range s.backups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.backups)
}

// Floor is the lowest id which might still be retained.
func (s *Store) Floor() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.floor
}

// UnreliableStore hands out Backups for immediate consumption without retaining them.
type UnreliableStore struct{}

func (UnreliableStore) Put(id, channelId uint64, priority flow.Priority) *Backup {
	return &Backup{Id: id, ChannelId: channelId, Priority: priority, index: -1}
}

func (UnreliableStore) Get(uint64) (*Backup, bool) { return nil, false }

func (UnreliableStore) ClearUpTo(uint64) int { return 0 }

func (UnreliableStore) Clear(uint64, uint64) int { return 0 }

func (UnreliableStore) Ids() []uint64 { return nil }

func (UnreliableStore) Len() int { return 0 }
