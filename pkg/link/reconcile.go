// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"sort"

	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

// reconciliation is the outcome of comparing the sent ids with a peer's block status.
type reconciliation struct {
	// Resend lists the ids to be retransmitted, ascending and unique.
	Resend []uint64

	// Clear indicates that all ids up to and including ClearUpTo were received by the peer.
	Clear     bool
	ClearUpTo uint64

	// Acked are runs of received ids behind the first gap. They might be dropped without affecting ClearUpTo.
	Acked []msgs.IdBlock
}

// reconcile the ids [0, nextId) sent on a channel with the peer's block status of the same channel.
//
// If the peer received nothing, everything is resent. Otherwise, everything below its lowest and above its highest
// received id is resent, together with all its missing ids. ClearUpTo never passes the first missing id.
func reconcile(nextId uint64, cbs msgs.ChannelBlockStatus) (r reconciliation) {
	if nextId == 0 {
		return
	}

	if cbs.NumIds == 0 {
		r.Resend = make([]uint64, 0, nextId)
		for id := uint64(0); id < nextId; id++ {
			r.Resend = append(r.Resend, id)
		}
		return
	}

	resend := make(map[uint64]struct{})
	add := func(id uint64) {
		if id < nextId {
			resend[id] = struct{}{}
		}
	}

	for id := uint64(0); id < cbs.LowestId && id < nextId; id++ {
		add(id)
	}
	for id := cbs.HighestId + 1; id < nextId; id++ {
		add(id)
	}

	// Collect all missing ids as blocks, ordered, for both the resend and the acked runs.
	missing := make([]msgs.IdBlock, 0, len(cbs.MissingSingles)+len(cbs.MissingBlocks))
	for _, id := range cbs.MissingSingles {
		add(id)
		missing = append(missing, msgs.IdBlock{Start: id, Count: 1})
	}
	for _, block := range cbs.MissingBlocks {
		for id := block.Start; id-block.Start < block.Count && id < nextId; id++ {
			add(id)
		}
		missing = append(missing, block)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Start < missing[j].Start })

	r.Resend = make([]uint64, 0, len(resend))
	for id := range resend {
		r.Resend = append(r.Resend, id)
	}
	sort.Slice(r.Resend, func(i, j int) bool { return r.Resend[i] < r.Resend[j] })

	switch {
	case cbs.LowestId > 0:
		// The peer misses the very first ids; nothing can be cleared.

	case len(missing) == 0:
		r.Clear = true
		r.ClearUpTo = cbs.HighestId

	case missing[0].Start > 0:
		r.Clear = true
		r.ClearUpTo = missing[0].Start - 1
	}

	// Runs between the gaps, from the first gap's end up to the highest id, were received as well. They are cleared
	// although they lie behind a gap, as a received packet never needs a resend.
	if len(missing) > 0 {
		for i, block := range missing {
			start := block.Start + block.Count
			end := cbs.HighestId + 1
			if i+1 < len(missing) {
				end = missing[i+1].Start
			}
			if start < end {
				r.Acked = append(r.Acked, msgs.IdBlock{Start: start, Count: end - start})
			}
		}
	}

	return
}
