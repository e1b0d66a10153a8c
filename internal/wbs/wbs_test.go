package wbs

import (
	"errors"
	"testing"
)

func ptr(s string) *string { return &s }

func TestRenumberFlatSiblings(t *testing.T) {
	codes, err := Renumber([]Node{
		{ID: "b", Code: "2", Ordinal: 1},
		{ID: "a", Code: "1", Ordinal: 0},
		{ID: "c", Code: "3", Ordinal: 2},
	})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if codes["a"] != "1" || codes["b"] != "2" || codes["c"] != "3" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestRenumberAfterReparent(t *testing.T) {
	// Siblings "1","2","3"; "3" moved under "1". "3" becomes "1.1" and the
	// remaining root sibling renumbers to "2".
	codes, err := Renumber([]Node{
		{ID: "t1", Code: "1", Ordinal: 0},
		{ID: "t2", Code: "2", Ordinal: 1},
		{ID: "t3", Code: "3", Ordinal: 2, ParentID: ptr("t1")},
	})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if codes["t3"] != "1.1" {
		t.Fatalf("expected t3 -> 1.1, got %s", codes["t3"])
	}
	if codes["t2"] != "2" {
		t.Fatalf("expected t2 -> 2, got %s", codes["t2"])
	}
}

func TestRenumberNumericSegmentOrder(t *testing.T) {
	// "1.10" must sort after "1.9", not lexically before it.
	codes, err := Renumber([]Node{
		{ID: "p", Code: "1", Ordinal: 0},
		{ID: "ten", Code: "1.10", Ordinal: 10, ParentID: ptr("p")},
		{ID: "nine", Code: "1.9", Ordinal: 9, ParentID: ptr("p")},
	})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if codes["nine"] != "1.1" || codes["ten"] != "1.2" {
		t.Fatalf("unexpected order: %v", codes)
	}
}

func TestRenumberUnnumberedFallsBackToOrdinal(t *testing.T) {
	codes, err := Renumber([]Node{
		{ID: "new2", Ordinal: 5},
		{ID: "old", Code: "1", Ordinal: 9},
		{ID: "new1", Ordinal: 3},
	})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if codes["old"] != "1" || codes["new1"] != "2" || codes["new2"] != "3" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestRenumberDepthExceeded(t *testing.T) {
	nodes := []Node{{ID: "n1", Ordinal: 0}}
	for i := 2; i <= 6; i++ {
		parent := nodes[len(nodes)-1].ID
		nodes = append(nodes, Node{ID: "n" + string(rune('0'+i)), Ordinal: i, ParentID: ptr(parent)})
	}
	_, err := Renumber(nodes)
	var derr DepthExceededError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DepthExceededError, got %v", err)
	}
	if derr.Depth != 6 {
		t.Fatalf("expected depth 6, got %d", derr.Depth)
	}
}

func TestRenumberFiveLevelsOK(t *testing.T) {
	nodes := []Node{{ID: "n1", Ordinal: 0}}
	for i := 2; i <= 5; i++ {
		parent := nodes[len(nodes)-1].ID
		nodes = append(nodes, Node{ID: "n" + string(rune('0'+i)), Ordinal: i, ParentID: ptr(parent)})
	}
	codes, err := Renumber(nodes)
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}
	if codes["n5"] != "1.1.1.1.1" {
		t.Fatalf("expected deepest code 1.1.1.1.1, got %s", codes["n5"])
	}
}

func TestDepthAndSubtreeDepth(t *testing.T) {
	parentOf := map[string]*string{
		"a": nil,
		"b": ptr("a"),
		"c": ptr("b"),
	}
	if d := Depth("c", parentOf); d != 3 {
		t.Fatalf("expected depth 3, got %d", d)
	}
	childrenOf := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}
	if d := SubtreeDepth("a", childrenOf); d != 3 {
		t.Fatalf("expected subtree depth 3, got %d", d)
	}
	if d := SubtreeDepth("c", childrenOf); d != 1 {
		t.Fatalf("expected leaf subtree depth 1, got %d", d)
	}
}
