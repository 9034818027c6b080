// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ticker provides a wind-up variant of the time.Ticker, used to pace a Link's periodic block status
// requests.
package ticker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Windup is a variant of the time.Ticker which works like a wind-up clock.
//
// The next tick of its channel C must be programmed by calling Reschedule. Rescheduling replaces a pending tick.
// The channel C will NOT be closed to prevent reading the closing as an erroneous tick.
type Windup struct {
	// c is buffered by one; a tick is dropped if the previous one was not consumed yet.
	c chan time.Time

	// C sends ticks with the current time.
	C <-chan time.Time

	mutex   sync.Mutex
	timer   *time.Timer
	stopped atomic.Bool
}

// NewWindup which needs to be scheduled by calling Reschedule.
func NewWindup() *Windup {
	c := make(chan time.Time, 1)
	return &Windup{
		c: c,
		C: c,
	}
}

// Reschedule the next tick after delay.
func (w *Windup) Reschedule(delay time.Duration) {
	if w.stopped.Load() {
		return
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(delay, w.tick)
}

func (w *Windup) tick() {
	if w.stopped.Load() {
		return
	}

	select {
	case w.c <- time.Now():
	default:
	}
}

// Stop this ticker. A pending tick is dropped.
func (w *Windup) Stop() {
	w.stopped.Store(true)

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}
