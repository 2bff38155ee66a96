// Package clock implements the vector clock every CRDT in this module uses
// to order its updates.
//
// A VectorClock is owned by one replica (its key) and maps replica keys to
// counters. Only the owner ever increments its own entry; everything else a
// clock learns comes from Merge. Two orders are defined over clocks:
//
//   - Causal: the classic partial order. Two clocks are Before, After,
//     Equal or Concurrent.
//
//   - Compare: a total order used by the last-writer-wins rules. It agrees
//     with Causal whenever one clock strictly dominates the other. For
//     concurrent clocks, and for clocks with identical entries, it falls
//     back to comparing the owning keys lexicographically, so every replica
//     resolves a conflict the same way without coordination.
//
// Note that Compare and Equal disagree for clocks with identical entries but
// different owners: Equal ignores the owning key, Compare does not. Vertex
// identity relies on Equal (see ID), LWW decisions rely on Compare.
//
// VectorClock is an immutable value; every operation returns a new clock and
// it is safe to share between goroutines.
package clock

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Ordering is the result of the causal comparison of two clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// VectorClock is an immutable vector clock owned by the replica named Key.
type VectorClock struct {
	key     string
	entries map[string]uint64
}

// New returns an empty clock owned by key.
func New(key string) VectorClock {
	return VectorClock{key: key}
}

// FromEntries returns a clock owned by key holding a copy of entries.
// Zero counters are dropped since an absent key already reads as zero.
func FromEntries(key string, entries map[string]uint64) VectorClock {
	c := VectorClock{key: key}
	for k, v := range entries {
		if v == 0 {
			continue
		}
		if c.entries == nil {
			c.entries = make(map[string]uint64, len(entries))
		}
		c.entries[k] = v
	}
	return c
}

// Key returns the owning replica key.
func (c VectorClock) Key() string { return c.key }

// Get returns the counter for key k, 0 if absent.
func (c VectorClock) Get(k string) uint64 { return c.entries[k] }

// Len returns the number of non-zero entries.
func (c VectorClock) Len() int { return len(c.entries) }

// Entries returns a copy of the entry map.
func (c VectorClock) Entries() map[string]uint64 {
	out := make(map[string]uint64, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Increment returns a new clock with the owner's counter advanced by one.
func (c VectorClock) Increment() VectorClock {
	next := c.Entries()
	next[c.key]++
	return VectorClock{key: c.key, entries: next}
}

// Merge returns a clock owned by c's key holding the pointwise maximum of
// both clocks.
func (c VectorClock) Merge(other VectorClock) VectorClock {
	next := c.Entries()
	for k, v := range other.entries {
		if v > next[k] {
			next[k] = v
		}
	}
	return VectorClock{key: c.key, entries: next}
}

// diffs reports whether any entry of c is greater, and whether any entry is
// smaller, than the matching entry of other over the union of their keys.
func (c VectorClock) diffs(other VectorClock) (greater, less bool) {
	for k, v := range c.entries {
		o := other.entries[k]
		if v > o {
			greater = true
		} else if v < o {
			less = true
		}
	}
	for k, o := range other.entries {
		if _, ok := c.entries[k]; ok {
			continue
		}
		if o > 0 {
			less = true
		}
	}
	return greater, less
}

// Compare returns -1, 0 or +1. If c strictly happened before other it
// returns -1, if strictly after +1. Concurrent clocks and clocks with equal
// entries are ordered by their owning keys.
func (c VectorClock) Compare(other VectorClock) int {
	greater, less := c.diffs(other)
	switch {
	case less && !greater:
		return -1
	case greater && !less:
		return 1
	}
	return strings.Compare(c.key, other.key)
}

// Less reports whether c.Compare(other) < 0.
func (c VectorClock) Less(other VectorClock) bool { return c.Compare(other) < 0 }

// Equal reports whether both clocks hold the same counters. The owning key
// is ignored.
func (c VectorClock) Equal(other VectorClock) bool {
	greater, less := c.diffs(other)
	return !greater && !less
}

// Causal returns the partial-order relation of c to other, without any
// tie-break.
func (c VectorClock) Causal(other VectorClock) Ordering {
	greater, less := c.diffs(other)
	switch {
	case greater && less:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}
	return Equal
}

// ID returns a canonical string for the clock's entries, ignoring the owner.
// Two clocks have the same ID iff they are Equal.
func (c VectorClock) ID() string {
	keys := c.sortedKeys()
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%d", k, c.entries[k])
	}
	return b.String()
}

func (c VectorClock) String() string {
	keys := c.sortedKeys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, c.entries[k])
	}
	return c.key + "{" + strings.Join(parts, ", ") + "}"
}

func (c VectorClock) sortedKeys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type wireClock struct {
	Key     string            `json:"key"`
	Entries map[string]uint64 `json:"entries"`
}

// MarshalJSON encodes the owning key and the full entry map.
func (c VectorClock) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireClock{Key: c.key, Entries: c.Entries()})
}

// UnmarshalJSON decodes a clock written by MarshalJSON.
func (c *VectorClock) UnmarshalJSON(data []byte) error {
	var w wireClock
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode vector clock: %w", err)
	}
	*c = FromEntries(w.Key, w.Entries)
	return nil
}
