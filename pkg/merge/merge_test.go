package merge

import (
	"strings"
	"testing"

	"github.com/tracewalk/dbgcore/pkg/stack"
)

func names(frames []stack.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Function
	}
	return out
}

func TestSpliceExpandsBoundary(t *testing.T) {
	native := []stack.Frame{
		{Function: "leaf"},
		{Function: "vm_dispatch_entry"},
		{Function: "main"},
	}
	isBoundary := func(name string) bool { return strings.HasPrefix(name, "vm_") }
	resolve := func(b stack.Frame) []stack.Frame {
		return []stack.Frame{
			{Function: "script_inner", Language: "lua"},
			{Function: "script_outer", Language: "lua"},
		}
	}

	merged := Splice(native, isBoundary, resolve)
	want := []string{"leaf", "script_inner", "script_outer", "vm_dispatch_entry", "main"}
	got := names(merged)
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: got %v, want %v", i, got, want)
		}
	}
	for i, fr := range merged {
		if fr.FrameIndex != i {
			t.Errorf("frame %d has index %d after splice", i, fr.FrameIndex)
		}
	}
	if !merged[3].IsBoundary {
		t.Error("boundary frame not marked")
	}
}

func TestSpliceEmptyExpansionKeepsFrame(t *testing.T) {
	native := []stack.Frame{{Function: "vm_entry"}, {Function: "main"}}
	merged := Splice(native,
		func(n string) bool { return n == "vm_entry" },
		func(stack.Frame) []stack.Frame { return nil })
	if len(merged) != 2 || !merged[0].IsBoundary {
		t.Fatalf("got %+v", merged)
	}
}

func TestSpliceNoCallbacksReindexesOnly(t *testing.T) {
	native := []stack.Frame{{Function: "a", FrameIndex: 9}, {Function: "b", FrameIndex: 9}}
	merged := Splice(native, nil, nil)
	if merged[0].FrameIndex != 0 || merged[1].FrameIndex != 1 {
		t.Fatalf("got %+v", merged)
	}
}
