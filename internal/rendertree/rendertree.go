// Package rendertree evaluates a tree of render nodes, timing every node with
// the collector carried by the context.
package rendertree

import (
	"context"
	"fmt"
	"strings"

	"github.com/tobert/render-trace/internal/timing"
)

// RenderFunc produces the node's own output. It runs after the node's span
// has started and before its children are evaluated.
type RenderFunc func(ctx context.Context) (string, error)

// Node is one element of a render tree. Path identifies the node in timing
// output and is usually the slash-separated path from the root.
type Node struct {
	Path     string
	Kind     string
	Render   RenderFunc
	Children []*Node
}

// Leaf returns a node without children.
func Leaf(path, kind string, render RenderFunc) *Node {
	return &Node{Path: path, Kind: kind, Render: render}
}

// Static returns a RenderFunc that always produces s.
func Static(s string) RenderFunc {
	return func(context.Context) (string, error) { return s, nil }
}

// Evaluate renders n and its descendants depth-first and returns the
// concatenated output. Each node is wrapped in a span, and the span is
// closed on error paths too so the collector stack stays balanced.
func Evaluate(ctx context.Context, n *Node) (string, error) {
	if n == nil {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := timing.FromContext(ctx)
	c.Start(n.Path, n.Kind)
	defer c.Stop(n.Path)

	var b strings.Builder
	if n.Render != nil {
		out, err := n.Render(ctx)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", n.Path, err)
		}
		b.WriteString(out)
	}

	for _, child := range n.Children {
		out, err := Evaluate(ctx, child)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// Count returns the number of nodes in the tree rooted at n.
func Count(n *Node) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += Count(child)
	}
	return total
}
