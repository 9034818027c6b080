// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link

import (
	"reflect"
	"testing"

	"github.com/dtn7/dtnlink/pkg/link/internal/ids"
	"github.com/dtn7/dtnlink/pkg/link/internal/msgs"
)

func blockStatusOf(channelId uint64, received ...uint64) msgs.ChannelBlockStatus {
	c := ids.NewCollection()
	for _, id := range received {
		c.Add(id)
	}

	cbs := msgs.ChannelBlockStatus{ChannelId: channelId, NumIds: c.NumIds()}
	if cbs.NumIds == 0 {
		return cbs
	}
	cbs.LowestId, _ = c.LowestId()
	cbs.HighestId, _ = c.HighestId()

	singles, blocks := c.Gaps()
	cbs.MissingSingles = singles
	for _, block := range blocks {
		cbs.MissingBlocks = append(cbs.MissingBlocks, msgs.IdBlock{Start: block.Start, Count: block.Len()})
	}
	return cbs
}

func TestReconcileReceivedIds(t *testing.T) {
	cbs := blockStatusOf(1, 0, 1, 2, 4, 5, 6)
	r := reconcile(11, cbs)

	if expected := []uint64{3, 7, 8, 9, 10}; !reflect.DeepEqual(r.Resend, expected) {
		t.Fatalf("resend %v, expected %v", r.Resend, expected)
	}
	if !r.Clear || r.ClearUpTo != 2 {
		t.Fatalf("clear %t up to %d, expected up to 2", r.Clear, r.ClearUpTo)
	}
	if expected := []msgs.IdBlock{{Start: 4, Count: 3}}; !reflect.DeepEqual(r.Acked, expected) {
		t.Fatalf("acked %v, expected %v", r.Acked, expected)
	}
}

func TestReconcileReport(t *testing.T) {
	// A peer's report might list ids as missing which are not between its lowest and highest id.
	cbs := msgs.ChannelBlockStatus{
		ChannelId:      1,
		LowestId:       0,
		HighestId:      7,
		NumIds:         6,
		MissingSingles: []uint64{3, 7},
	}
	r := reconcile(11, cbs)

	if expected := []uint64{3, 7, 8, 9, 10}; !reflect.DeepEqual(r.Resend, expected) {
		t.Fatalf("resend %v, expected %v", r.Resend, expected)
	}
	if !r.Clear || r.ClearUpTo != 2 {
		t.Fatalf("clear %t up to %d, expected up to 2", r.Clear, r.ClearUpTo)
	}
	if expected := []msgs.IdBlock{{Start: 4, Count: 3}}; !reflect.DeepEqual(r.Acked, expected) {
		t.Fatalf("acked %v, expected %v", r.Acked, expected)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		nextId    uint64
		cbs       msgs.ChannelBlockStatus
		resend    []uint64
		clear     bool
		clearUpTo uint64
	}{
		{"nothing sent", 0, blockStatusOf(1), nil, false, 0},
		{"nothing received", 3, blockStatusOf(1), []uint64{0, 1, 2}, false, 0},
		{"everything received", 3, blockStatusOf(1, 0, 1, 2), []uint64{}, true, 2},
		{"tail missing", 5, blockStatusOf(1, 0, 1), []uint64{2, 3, 4}, true, 1},
		{"head missing", 4, blockStatusOf(1, 2, 3), []uint64{0, 1}, false, 0},
		{"block missing", 8, blockStatusOf(1, 0, 4, 5, 6, 7), []uint64{1, 2, 3}, true, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := reconcile(test.nextId, test.cbs)

			if len(r.Resend) != len(test.resend) || (len(r.Resend) > 0 && !reflect.DeepEqual(r.Resend, test.resend)) {
				t.Fatalf("resend %v, expected %v", r.Resend, test.resend)
			}
			if r.Clear != test.clear || r.ClearUpTo != test.clearUpTo {
				t.Fatalf("clear %t up to %d, expected %t up to %d", r.Clear, r.ClearUpTo, test.clear, test.clearUpTo)
			}
		})
	}
}
