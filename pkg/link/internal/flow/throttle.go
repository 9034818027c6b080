// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package flow

import (
	"sync"
	"time"
)

// Uncapped is the send cap value for an unlimited rate.
const Uncapped uint64 = 0

// ThrottleLimit calculates a new send cap in bytes per second for a received throttle request.
//
// A requested rate of zero lifts the cap while the peer keeps measuring. Otherwise the requested rate is accepted
// unless the sender is already observed to send less; then the observed rate becomes the cap. Thus, a throttle never
// raises the rate above what is actually sent.
func ThrottleLimit(requested, observed uint64) uint64 {
	if requested == Uncapped {
		return Uncapped
	}
	if observed > 0 && observed < requested {
		return observed
	}
	return requested
}

// GapThrottler decides on the receiving side when to ask the peer to throttle after a gap was detected.
//
// The first gap of an episode starts a measurement and results in an uncapped throttle request. Further gaps, at most
// one per cool-down, result in the measured inbound rate, but at least the floor. An episode ends after no gap was
// seen for QuietCooldowns cool-downs; the next gap lifts the peer's cap again.
type GapThrottler struct {
	mutex sync.Mutex
	now   func() time.Time

	cooldown time.Duration
	floor    uint64
	inbound  *Meter

	measuring bool
	last      time.Time
	lastGap   time.Time
}

// QuietCooldowns is the amount of gap-free cool-downs ending a measurement episode.
const QuietCooldowns = 8

// NewGapThrottler based on the inbound Meter. The Meter's window is reset by each emitted throttle.
func NewGapThrottler(inbound *Meter, cooldown time.Duration, floor uint64) *GapThrottler {
	return &GapThrottler{
		now:      time.Now,
		cooldown: cooldown,
		floor:    floor,
		inbound:  inbound,
	}
}

// OnGap is called for each detected receive gap. If send is true, a throttle message with rate must be sent.
func (g *GapThrottler) OnGap() (rate uint64, send bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()

	if g.measuring && now.Sub(g.lastGap) > QuietCooldowns*g.cooldown {
		g.measuring = false
	}
	g.lastGap = now

	if !g.measuring {
		g.measuring = true
		g.last = now
		g.inbound.Reset()
		return Uncapped, true
	}

	if now.Sub(g.last) < g.cooldown {
		return 0, false
	}

	g.last = now
	rate = g.inbound.Reset()
	if rate < g.floor {
		rate = g.floor
	}
	return rate, true
}
