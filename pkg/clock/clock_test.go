package clock

import (
	"encoding/json"
	"testing"
)

func TestIncrementStartsFromOne(t *testing.T) {
	c := New("a").Increment()
	if got := c.Get("a"); got != 1 {
		t.Fatalf("first Increment: got %d, want 1", got)
	}
}

func TestIncrementIsImmutable(t *testing.T) {
	c0 := New("a")
	c1 := c0.Increment()
	c2 := c1.Increment()
	if c0.Get("a") != 0 || c1.Get("a") != 1 || c2.Get("a") != 2 {
		t.Fatalf("clocks mutated: %v %v %v", c0, c1, c2)
	}
}

func TestIncrementOnlyTouchesOwnKey(t *testing.T) {
	c := FromEntries("a", map[string]uint64{"a": 1, "b": 7}).Increment()
	if c.Get("a") != 2 || c.Get("b") != 7 {
		t.Fatalf("Increment: got %v, want a:2 b:7", c)
	}
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := FromEntries("a", map[string]uint64{"a": 3, "b": 1})
	b := FromEntries("b", map[string]uint64{"b": 4, "c": 2})
	m := a.Merge(b)
	if m.Key() != "a" {
		t.Fatalf("Merge key: got %q, want a", m.Key())
	}
	want := map[string]uint64{"a": 3, "b": 4, "c": 2}
	for k, v := range want {
		if m.Get(k) != v {
			t.Fatalf("Merge[%s]: got %d, want %d", k, m.Get(k), v)
		}
	}
	if a.Get("c") != 0 {
		t.Fatal("Merge mutated its receiver")
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b VectorClock
		want int
	}{
		{"strictly before", FromEntries("z", map[string]uint64{"a": 1}), FromEntries("a", map[string]uint64{"a": 2}), -1},
		{"strictly after", FromEntries("a", map[string]uint64{"a": 2, "b": 1}), FromEntries("z", map[string]uint64{"a": 2}), 1},
		{"concurrent, smaller key", FromEntries("a", map[string]uint64{"a": 1}), FromEntries("b", map[string]uint64{"b": 1}), -1},
		{"concurrent, greater key", FromEntries("b", map[string]uint64{"b": 1}), FromEntries("a", map[string]uint64{"a": 1}), 1},
		{"equal entries, different keys", FromEntries("a", map[string]uint64{"x": 1}), FromEntries("b", map[string]uint64{"x": 1}), -1},
		{"equal entries, same key", FromEntries("a", map[string]uint64{"x": 1}), FromEntries("a", map[string]uint64{"x": 1}), 0},
		{"absent reads as zero", New("a"), FromEntries("a", map[string]uint64{"a": 1}), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Fatalf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCompareAntisymmetricForDifferentKeys(t *testing.T) {
	a := FromEntries("ND-21", map[string]uint64{"ND-21": 2, "ND-22": 1})
	b := FromEntries("ND-22", map[string]uint64{"ND-21": 1, "ND-22": 2})
	if a.Compare(b) != -b.Compare(a) {
		t.Fatalf("Compare not antisymmetric: %d vs %d", a.Compare(b), b.Compare(a))
	}
	if !a.Less(b) {
		t.Fatal("concurrent clocks: ND-22 should win the tie-break")
	}
}

func TestEqualIgnoresKey(t *testing.T) {
	a := FromEntries("a", map[string]uint64{"x": 1, "y": 2})
	b := FromEntries("b", map[string]uint64{"y": 2, "x": 1})
	if !a.Equal(b) {
		t.Fatal("Equal should ignore the owning key")
	}
	if a.Compare(b) == 0 {
		t.Fatal("Compare should still break the tie by key")
	}
	if a.ID() != b.ID() {
		t.Fatalf("ID mismatch for equal clocks: %q vs %q", a.ID(), b.ID())
	}
}

func TestEqualTreatsZeroAsAbsent(t *testing.T) {
	a := FromEntries("a", map[string]uint64{"x": 0})
	if !a.Equal(New("b")) {
		t.Fatal("zero entry should equal an empty clock")
	}
	if a.ID() != "" {
		t.Fatalf("empty clock ID: got %q", a.ID())
	}
}

func TestCausal(t *testing.T) {
	a := FromEntries("a", map[string]uint64{"a": 1})
	b := FromEntries("b", map[string]uint64{"b": 1})
	ab := a.Merge(b)
	cases := []struct {
		name string
		x, y VectorClock
		want Ordering
	}{
		{"equal", a, a, Equal},
		{"before", a, ab, Before},
		{"after", ab, b, After},
		{"concurrent", a, b, Concurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.x.Causal(tc.y); got != tc.want {
				t.Fatalf("Causal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJSONRoundTripKeepsKeyAndEntries(t *testing.T) {
	c := FromEntries("n1", map[string]uint64{"n1": 3, "n2": 9})
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var back VectorClock
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Key() != "n1" || !back.Equal(c) || back.Compare(c) != 0 {
		t.Fatalf("round trip: got %v, want %v", back, c)
	}
}

func TestString(t *testing.T) {
	c := FromEntries("n1", map[string]uint64{"n2": 1, "n1": 2})
	if got, want := c.String(), "n1{n1:2, n2:1}"; got != want {
		t.Fatalf("String: got %q, want %q", got, want)
	}
}
