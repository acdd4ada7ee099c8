package keytree

// PathCap is the maximum number of nodes a path can hold: one per level
// below a subscription subtree's root.
const PathCap = 64

// Path is the per-channel derivation cache: the root-to-leaf chain of nodes
// visited by the most recent Derive. It is a truncatable stack, not an
// associative cache. Entry 0 is the first node derived below the starting
// subtree; each later entry covers a strictly smaller interval nested in
// the previous one.
//
// Paths live in RAM only. They are discarded on restart and whenever the
// channel's subscription is replaced.
type Path struct {
	entries [PathCap]Subtree
	length  int
}

// Reset empties the path.
func (p *Path) Reset() {
	p.length = 0
}

// Len returns the number of cached nodes.
func (p *Path) Len() int {
	return p.length
}

// push appends a node. The capacity bound holds structurally: a derivation
// pushes at most one node per tree level.
func (p *Path) push(s Subtree) {
	p.entries[p.length] = s
	p.length++
}

// descend finds the deepest cached node containing t and truncates the path
// to end there. It reports false, leaving the path untouched, when the
// cached region does not contain t at all; the caller then clears the path
// and restarts from the subscription.
func (p *Path) descend(t uint64) (Subtree, bool) {
	if p.length == 0 || !p.entries[0].Contains(t) {
		return Subtree{}, false
	}

	for i := p.length - 1; i >= 0; i-- {
		if p.entries[i].Contains(t) {
			p.length = i + 1
			return p.entries[i], true
		}
	}

	// Entry 0 contained t, so the loop cannot fall through.
	panic("unreachable: path root contains timestamp but no entry does")
}
