package model

import (
	"encoding/json"
	"testing"

	"github.com/daviddao/crdtstore/pkg/clock"
)

func TestCommandKind_Type(t *testing.T) {
	cases := []struct {
		kind CommandKind
		want string
	}{
		{KindRegisterSet, "register"},
		{KindSetAdd, "set"},
		{KindSetRemove, "set"},
		{KindGraphAddVertex, "graph"},
		{KindGraphRemoveEdge, "graph"},
		{KindListAddRight, "list"},
		{KindListRemove, "list"},
		{CommandKind("bare"), "bare"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			if got := tc.kind.Type(); got != tc.want {
				t.Fatalf("%q.Type() = %q, want %q", tc.kind, got, tc.want)
			}
		})
	}
}

func TestEnvelope_JSONKeepsFullClock(t *testing.T) {
	anchor := clock.New("n1")
	env := Envelope{
		CRDTID: "12-AD",
		Kind:   KindListAddRight,
		Clock:  clock.FromEntries("n2", map[string]uint64{"n1": 1, "n2": 4}),
		Anchor: &anchor,
		Value:  "STROKE_UP",
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.CRDTID != env.CRDTID || back.Kind != env.Kind {
		t.Fatalf("header mismatch: got %+v", back)
	}
	if back.Clock.Key() != "n2" || back.Clock.Get("n2") != 4 || back.Clock.Get("n1") != 1 {
		t.Fatalf("clock lost in transit: got %v", back.Clock)
	}
	if back.Anchor == nil || back.Anchor.Key() != "n1" || back.Anchor.Len() != 0 {
		t.Fatalf("anchor lost in transit: got %v", back.Anchor)
	}
	if back.Value != "STROKE_UP" {
		t.Fatalf("value: got %v", back.Value)
	}
	if back.Other != nil {
		t.Fatalf("other should be omitted, got %v", back.Other)
	}
}
