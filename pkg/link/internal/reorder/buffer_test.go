// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package reorder

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func TestBufferInOrder(t *testing.T) {
	b := NewBuffer(8, 0)

	for id := uint64(0); id < 20; id++ {
		if status, err := b.Put(id, []byte{byte(id)}); err != nil {
			t.Fatal(err)
		} else if status != Ready {
			t.Fatalf("id %d: expected ready, got %v", id, status)
		}

		block, ok := b.Next()
		if !ok || block.Id != id {
			t.Fatalf("id %d: got block %v, %t", id, block, ok)
		}
		if _, ok := b.Next(); ok {
			t.Fatalf("id %d: second block available", id)
		}
	}
}

func TestBufferGap(t *testing.T) {
	b := NewBuffer(8, 0)

	for _, id := range []uint64{1, 2, 3} {
		if status, _ := b.Put(id, []byte{byte(id)}); status != Buffered {
			t.Fatalf("id %d: expected buffered, got %v", id, status)
		}
	}

	if !b.HasGap() {
		t.Fatal("expected a gap")
	}
	if count, bytes := b.Pending(); count != 3 || bytes != 3 {
		t.Fatalf("pending %d/%d", count, bytes)
	}

	if status, _ := b.Put(0, []byte{0}); status != Ready {
		t.Fatalf("expected ready, got %v", status)
	}

	for id := uint64(0); id < 4; id++ {
		if block, ok := b.Next(); !ok || block.Id != id {
			t.Fatalf("expected block %d, got %v %t", id, block, ok)
		}
	}
	if b.HasGap() || b.Offset() != 4 {
		t.Fatalf("unexpected state: gap %t, offset %d", b.HasGap(), b.Offset())
	}
}

// TestBufferPermutations feeds random permutations with duplicates and expects exactly 0..n-1 in order.
func TestBufferPermutations(t *testing.T) {
	const n = 300

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			b := NewBuffer(DefaultCapacity, 0)

			var order []uint64
			for _, id := range rand.Perm(n) {
				order = append(order, uint64(id))
				if rand.Intn(4) == 0 {
					order = append(order, uint64(id))
				}
			}
			rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			var delivered []uint64
			for _, id := range order {
				status, err := b.Put(id, []byte(fmt.Sprintf("%d", id)))
				if err != nil {
					t.Fatal(err)
				}

				switch status {
				case Duplicate:
					// duplicates below the offset are answered from cache, never re-yielded
					if id < b.Offset() {
						if r, ok := b.Reply(id); !ok || r != id+1000 {
							t.Fatalf("duplicate %d without cached reply", id)
						}
					}
				case Ready:
					for {
						block, ok := b.Next()
						if !ok {
							break
						}
						if string(block.Data) != fmt.Sprintf("%d", block.Id) {
							t.Fatalf("block %d carries %q", block.Id, block.Data)
						}
						delivered = append(delivered, block.Id)
						b.SetReply(block.Id, block.Id+1000)
					}
				}
			}

			if len(delivered) != n {
				t.Fatalf("expected %d blocks, got %d", n, len(delivered))
			}
			for i, id := range delivered {
				if id != uint64(i) {
					t.Fatalf("position %d holds id %d", i, id)
				}
			}
		})
	}
}

func TestBufferReplyCache(t *testing.T) {
	b := NewBuffer(4, 0)

	if _, ok := b.Reply(0); ok {
		t.Fatal("reply for undelivered id")
	}

	_, _ = b.Put(0, nil)
	_, _ = b.Next()
	b.SetReply(0, 99)

	if r, ok := b.Reply(0); !ok || r != 99 {
		t.Fatalf("expected reply 99, got %d %t", r, ok)
	}

	// The ring slot of id 0 will be reused by id 4.
	for id := uint64(1); id <= 4; id++ {
		_, _ = b.Put(id, nil)
		_, _ = b.Next()
		b.SetReply(id, 100+id)
	}

	if _, ok := b.Reply(0); ok {
		t.Fatal("evicted reply still present")
	}
	if r, ok := b.Reply(4); !ok || r != 104 {
		t.Fatalf("expected reply 104, got %d %t", r, ok)
	}
}

func TestBufferDuplicateBuffered(t *testing.T) {
	b := NewBuffer(8, 0)

	_, _ = b.Put(3, []byte("a"))
	if status, _ := b.Put(3, []byte("b")); status != Duplicate {
		t.Fatalf("expected duplicate, got %v", status)
	}
	if count, _ := b.Pending(); count != 1 {
		t.Fatalf("expected one pending block, got %d", count)
	}
}

func TestBufferCapacityExceeded(t *testing.T) {
	b := NewBuffer(16, 10)

	if _, err := b.Put(25, nil); err != nil {
		t.Fatalf("last slot rejected: %v", err)
	}
	if _, err := b.Put(26, nil); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}
