package debugger

import (
	"sync"

	dap "github.com/google/go-dap"
	"github.com/google/uuid"

	"dapcore/pkg/pathutil"
)

// trackedBreakpoint is the facade's local record of a breakpoint,
// independent of whether the adapter has verified it yet.
type trackedBreakpoint struct {
	ID       string
	Line     int
	Name     string
	Verified bool
}

// breakpointSet is the authoritative per-session breakpoint list, keyed
// by normalised source path. Any mutation replaces the full list for
// that path rather than diffing against it, matching DAP's own
// setBreakpoints semantics (the request replaces, not augments).
type breakpointSet struct {
	mu   sync.Mutex
	byPath map[string][]*trackedBreakpoint
}

func newBreakpointSet() *breakpointSet {
	return &breakpointSet{byPath: make(map[string][]*trackedBreakpoint)}
}

// replace sets the full breakpoint list for path and returns it so the
// caller can build a setBreakpoints request body. Pre-existing IDs are
// preserved where a breakpoint at the same line survives across calls.
func (b *breakpointSet) replace(path string, lines []int, names map[int]string) []*trackedBreakpoint {
	norm, err := pathutil.Normalise(path)
	if err != nil {
		norm = path
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing := make(map[int]*trackedBreakpoint, len(b.byPath[norm]))
	for _, bp := range b.byPath[norm] {
		existing[bp.Line] = bp
	}

	next := make([]*trackedBreakpoint, 0, len(lines))
	for _, line := range lines {
		if bp, ok := existing[line]; ok {
			next = append(next, bp)
			continue
		}
		next = append(next, &trackedBreakpoint{ID: uuid.NewString(), Line: line, Name: names[line]})
	}
	b.byPath[norm] = next
	return next
}

// applyVerification updates the verified flag for path's breakpoints
// from the adapter's setBreakpoints response, matching by position:
// the response's Breakpoints slice parallels the request's lines slice
// per the DAP spec.
func (b *breakpointSet) applyVerification(path string, verified []dap.Breakpoint) {
	norm, err := pathutil.Normalise(path)
	if err != nil {
		norm = path
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tracked := b.byPath[norm]
	for i, v := range verified {
		if i >= len(tracked) {
			break
		}
		tracked[i].Verified = v.Verified
	}
}

// snapshot returns every tracked breakpoint across all paths, for
// persistence.
func (b *breakpointSet) snapshot() map[string][]*trackedBreakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]*trackedBreakpoint, len(b.byPath))
	for path, bps := range b.byPath {
		cp := make([]*trackedBreakpoint, len(bps))
		copy(cp, bps)
		out[path] = cp
	}
	return out
}
