package timing

// SpanNode is a trace event placed back into its call tree.
type SpanNode struct {
	Event    TraceEvent
	Index    int // position in the completion-ordered trace
	Parent   int // index of the parent event, -1 for roots
	Children []*SpanNode
}

// BuildTree reconstructs the call tree from events in completion order.
//
// A span completes after all of its children, and its depth is one less than
// theirs, so the children of an event at depth d are exactly the events at
// depth d+1 that completed since the previous event at depth d or lower.
// Events that never find a parent (the outermost spans, or spans whose parent
// was never stopped) become roots. Roots and children are returned in start
// order.
func BuildTree(events []TraceEvent) []*SpanNode {
	nodes := make([]*SpanNode, len(events))
	pending := make(map[int][]*SpanNode)

	for i, ev := range events {
		n := &SpanNode{Event: ev, Index: i, Parent: -1}
		nodes[i] = n

		if kids := pending[ev.Depth+1]; len(kids) > 0 {
			n.Children = kids
			for _, kid := range kids {
				kid.Parent = i
			}
			delete(pending, ev.Depth+1)
		}
		// deeper leftovers lost their parent and stay roots
		for depth := range pending {
			if depth > ev.Depth {
				delete(pending, depth)
			}
		}
		pending[ev.Depth] = append(pending[ev.Depth], n)
	}

	var roots []*SpanNode
	for _, n := range nodes {
		if n.Parent == -1 {
			roots = append(roots, n)
		}
	}
	sortByStart(roots)
	for _, n := range nodes {
		sortByStart(n.Children)
	}
	return roots
}

// Walk visits nodes depth-first in start order. fn receives each node with
// its nesting level below the given roots.
func Walk(roots []*SpanNode, fn func(n *SpanNode, level int)) {
	var visit func(n *SpanNode, level int)
	visit = func(n *SpanNode, level int) {
		fn(n, level)
		for _, c := range n.Children {
			visit(c, level+1)
		}
	}
	for _, r := range roots {
		visit(r, 0)
	}
}

func sortByStart(nodes []*SpanNode) {
	// insertion sort keeps equal start times in completion order
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Event.StartTime < nodes[j-1].Event.StartTime; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
