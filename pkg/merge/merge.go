// Package merge splices foreign-runtime frames into a native backtrace.
// When the native unwinder reaches a boundary symbol (an interpreter entry
// point, a JIT trampoline), a resolver callback supplies the sub-frames
// that the foreign runtime knows about for that boundary, and the merger
// inlines them just before the native frame, which stays in the trace marked
// as a boundary.
package merge

import "github.com/tracewalk/dbgcore/pkg/stack"

// BoundaryMatcher reports whether a native function name marks a transition
// into a foreign runtime.
type BoundaryMatcher func(functionName string) bool

// Resolver expands one boundary frame into the foreign sub-frames it hides.
// Returning nothing keeps the native frame as-is.
type Resolver func(boundary stack.Frame) []stack.Frame

// Splice walks a native backtrace and inserts the resolver's expansion of
// each boundary frame ahead of that frame, re-indexing the merged result innermost-first. The
// boundary frame itself is kept, marked, after its expansion, so the native
// anchor stays visible in the merged trace.
func Splice(native []stack.Frame, isBoundary BoundaryMatcher, resolve Resolver) []stack.Frame {
	if isBoundary == nil || resolve == nil {
		return reindex(native)
	}
	var merged []stack.Frame
	for _, fr := range native {
		if !isBoundary(fr.Function) {
			merged = append(merged, fr)
			continue
		}
		fr.IsBoundary = true
		if sub := resolve(fr); len(sub) > 0 {
			merged = append(merged, sub...)
		}
		merged = append(merged, fr)
	}
	return reindex(merged)
}

func reindex(frames []stack.Frame) []stack.Frame {
	for i := range frames {
		frames[i].FrameIndex = i
	}
	return frames
}
