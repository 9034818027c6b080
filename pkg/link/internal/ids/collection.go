// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ids tracks sets of sequence numbers as sorted, non-overlapping boundaries.
package ids

import (
	"fmt"
	"sort"
	"strings"
)

// Boundary is a contiguous run of ids, [Start, PostEnd).
type Boundary struct {
	Start   uint64
	PostEnd uint64
}

// Len of this Boundary, the amount of contained ids.
func (b Boundary) Len() uint64 {
	return b.PostEnd - b.Start
}

// Contains checks if the id lies within this Boundary.
func (b Boundary) Contains(id uint64) bool {
	return b.Start <= id && id < b.PostEnd
}

func (b Boundary) String() string {
	if b.Len() == 1 {
		return fmt.Sprintf("%d", b.Start)
	}
	return fmt.Sprintf("%d-%d", b.Start, b.PostEnd-1)
}

// Collection is a compact set of ids. Adjacent or overlapping insertions are merged, resulting in a sorted slice of
// disjoint Boundaries. Thus, gap detection runs in O(boundaries) instead of O(ids).
//
// A Collection is not safe for concurrent use; its owner must synchronize.
type Collection struct {
	boundaries []Boundary
	numIds     uint64
}

// NewCollection creates an empty Collection.
func NewCollection() *Collection {
	return &Collection{}
}

// search returns the index of the first Boundary whose PostEnd is greater or equal to id.
func (c *Collection) search(id uint64) int {
	return sort.Search(len(c.boundaries), func(i int) bool {
		return c.boundaries[i].PostEnd >= id
	})
}

// Add an id to this Collection. The returned bool is false if the id was already present.
func (c *Collection) Add(id uint64) bool {
	return c.AddRange(id, id+1) > 0
}

// AddRange inserts all ids of [start, postEnd) and returns the amount of newly added ids.
func (c *Collection) AddRange(start, postEnd uint64) (added uint64) {
	if postEnd <= start {
		return 0
	}

	i := c.search(start)

	// Merge every Boundary touching or overlapping [start, postEnd).
	j := i
	mergedStart, mergedPostEnd := start, postEnd
	var covered uint64
	for ; j < len(c.boundaries) && c.boundaries[j].Start <= postEnd; j++ {
		b := c.boundaries[j]
		if b.Start < mergedStart {
			mergedStart = b.Start
		}
		if b.PostEnd > mergedPostEnd {
			mergedPostEnd = b.PostEnd
		}
		covered += b.Len()
	}

	merged := Boundary{Start: mergedStart, PostEnd: mergedPostEnd}
	added = merged.Len() - covered
	if added == 0 {
		return
	}

	c.boundaries = append(c.boundaries[:i], append([]Boundary{merged}, c.boundaries[j:]...)...)
	c.numIds += added
	return
}

// Contains checks if an id is present.
func (c *Collection) Contains(id uint64) bool {
	i := c.search(id + 1)
	return i < len(c.boundaries) && c.boundaries[i].Contains(id)
}

// LowestId returns the smallest id. The bool is false for an empty Collection.
func (c *Collection) LowestId() (uint64, bool) {
	if len(c.boundaries) == 0 {
		return 0, false
	}
	return c.boundaries[0].Start, true
}

// HighestId returns the largest id. The bool is false for an empty Collection.
func (c *Collection) HighestId() (uint64, bool) {
	if len(c.boundaries) == 0 {
		return 0, false
	}
	return c.boundaries[len(c.boundaries)-1].PostEnd - 1, true
}

// NumIds is the total amount of ids.
func (c *Collection) NumIds() uint64 {
	return c.numIds
}

// Boundaries returns a copy of all Boundaries in ascending order.
func (c *Collection) Boundaries() []Boundary {
	bs := make([]Boundary, len(c.boundaries))
	copy(bs, c.boundaries)
	return bs
}

// Gaps between the lowest and the highest id. Gaps of exactly one id are returned as singles, larger ones as blocks.
func (c *Collection) Gaps() (singles []uint64, blocks []Boundary) {
	for i := 1; i < len(c.boundaries); i++ {
		gap := Boundary{Start: c.boundaries[i-1].PostEnd, PostEnd: c.boundaries[i].Start}
		if gap.Len() == 1 {
			singles = append(singles, gap.Start)
		} else {
			blocks = append(blocks, gap)
		}
	}
	return
}

// Range calls f for each id in ascending order until f returns false.
func (c *Collection) Range(f func(id uint64) bool) {
	for _, b := range c.boundaries {
		for id := b.Start; id < b.PostEnd; id++ {
			if !f(id) {
				return
			}
		}
	}
}

func (c *Collection) String() string {
	parts := make([]string, 0, len(c.boundaries))
	for _, b := range c.boundaries {
		parts = append(parts, b.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
