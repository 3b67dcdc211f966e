package rendertree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/render-trace/internal/timing"
)

func sampleTree() *Node {
	return &Node{
		Path: "page",
		Kind: "Neos.Neos:Page",
		Children: []*Node{
			Leaf("page/head", "", Static("<head/>")),
			{
				Path:   "page/body",
				Kind:   "Neos.Fusion:Tag",
				Render: Static("<body>"),
				Children: []*Node{
					Leaf("page/body/content", "Neos.Neos:ContentCollection", Static("hello")),
					Leaf("page/body/content", "Neos.Neos:ContentCollection", Static(" again")),
				},
			},
		},
	}
}

func TestEvaluateConcatenatesOutput(t *testing.T) {
	out, err := Evaluate(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Equal(t, "<head/><body>hello again", out)
}

func TestEvaluateRecordsSpans(t *testing.T) {
	c := timing.NewCollector(nil)
	ctx := timing.NewContext(context.Background(), c)

	_, err := Evaluate(ctx, sampleTree())
	require.NoError(t, err)

	trace := c.Trace()
	require.Len(t, trace, 5)
	assert.Equal(t, "page/head", trace[0].Name)
	assert.Equal(t, 1, trace[0].Depth)
	assert.Equal(t, "page/body/content", trace[1].Name)
	assert.Equal(t, 2, trace[1].Depth)
	assert.Equal(t, "page", trace[4].Name)
	assert.Equal(t, 0, trace[4].Depth)

	content, ok := c.Aggregate("page/body/content")
	require.True(t, ok)
	assert.Equal(t, 2, content.Count)
	assert.Equal(t, 0, c.Depth())
}

func TestEvaluateClosesSpansOnError(t *testing.T) {
	c := timing.NewCollector(nil)
	ctx := timing.NewContext(context.Background(), c)
	boom := errors.New("boom")

	tree := &Node{
		Path: "page",
		Children: []*Node{
			Leaf("page/broken", "", func(context.Context) (string, error) { return "", boom }),
			Leaf("page/never", "", Static("x")),
		},
	}

	_, err := Evaluate(ctx, tree)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Depth())

	_, ok := c.Aggregate("page/never")
	assert.False(t, ok)
	_, ok = c.Aggregate("page/broken")
	assert.True(t, ok)
}

func TestEvaluateWithoutCollector(t *testing.T) {
	out, err := Evaluate(context.Background(), Leaf("x", "", Static("ok")))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestEvaluateCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Evaluate(ctx, sampleTree())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 5, Count(sampleTree()))
	assert.Equal(t, 0, Count(nil))
}
