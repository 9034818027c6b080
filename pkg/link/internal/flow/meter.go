// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flow

import (
	"sync"
	"time"
)

// Meter accumulates transferred bytes since its last reset to derive a bytes per second rate.
type Meter struct {
	mutex sync.Mutex
	now   func() time.Time

	total uint64
	bytes uint64
	since time.Time
}

// NewMeter starting its measurement now.
func NewMeter() *Meter {
	return newMeterWithClock(time.Now)
}

func newMeterWithClock(now func() time.Time) *Meter {
	return &Meter{
		now:   now,
		since: now(),
	}
}

// Add n transferred bytes.
func (m *Meter) Add(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.bytes += uint64(n)
	m.total += uint64(n)
}

// Total bytes since the Meter's creation.
func (m *Meter) Total() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.total
}

// Elapsed time since the last reset.
func (m *Meter) Elapsed() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.now().Sub(m.since)
}

// Rate in bytes per second since the last reset. Zero is returned if no time has passed.
func (m *Meter) Rate() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.rate()
}

func (m *Meter) rate() uint64 {
	elapsed := m.now().Sub(m.since)
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(m.bytes) / elapsed.Seconds())
}

// Reset the measurement window and return the rate of the closed window.
func (m *Meter) Reset() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	r := m.rate()
	m.bytes = 0
	m.since = m.now()
	return r
}
