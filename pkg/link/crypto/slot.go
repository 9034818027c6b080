// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"sync"
	"sync/atomic"
)

// Slot holds an active value and optionally a staged one. Staged values become active only by Apply.
//
// Readers access the active value without locking; Stage and Apply are serialized.
type Slot[T any] struct {
	mutex  sync.Mutex
	staged *T
	active atomic.Pointer[T]
}

// NewSlot with an initially active value.
func NewSlot[T any](initial T) *Slot[T] {
	s := &Slot[T]{}
	s.active.Store(&initial)
	return s
}

// Active value.
func (s *Slot[T]) Active() T {
	return *s.active.Load()
}

// Stage a value to be activated later. A previously staged value is replaced.
func (s *Slot[T]) Stage(v T) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.staged = &v
}

// Staged reports a value waiting for Apply.
func (s *Slot[T]) Staged() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.staged != nil
}

// Apply activates the staged value. False is returned if nothing was staged.
func (s *Slot[T]) Apply() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.staged == nil {
		return false
	}

	s.active.Store(s.staged)
	s.staged = nil
	return true
}

// Set stages and applies a value at once.
func (s *Slot[T]) Set(v T) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.staged = nil
	s.active.Store(&v)
}
