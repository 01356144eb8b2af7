package datasets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPadBucket(t *testing.T) {
	for _, c := range []struct{ n, minimum, want int }{
		{0, 32, 32}, {32, 32, 32}, {33, 32, 64}, {100, 1, 128}, {5, 0, 8},
	} {
		require.Equal(t, c.want, PadBucket(c.n, c.minimum), "PadBucket(%d, %d)", c.n, c.minimum)
	}
}

func TestGraphBatchPad(t *testing.T) {
	ds := newTestDataset(t)
	view := ds.Split(Train)
	b, err := view.Batch(view.Batches(3)[0])
	require.NoError(t, err)
	n, e := b.NumNodes, b.NumEdges()

	p, err := b.Pad(n+3, e+7)
	require.NoError(t, err)
	require.Equal(t, n+3, p.NumNodes)
	require.Equal(t, e+7, p.NumEdges())
	require.Equal(t, b.NodeOffsets, p.NodeOffsets)
	require.Equal(t, b.Scenes, p.Scenes)
	require.Equal(t, b.Src, p.Src[:e])
	require.Equal(t, b.Dst, p.Dst[:e])
	require.NoError(t, p.CheckInDegree())
	for k := e; k < p.NumEdges(); k++ {
		require.Equal(t, p.Src[k], p.Dst[k], "padding edge %d must be a self-loop", k)
		require.GreaterOrEqual(t, int(p.Dst[k]), n, "padding edge %d reaches a real node", k)
	}
	require.Equal(t, b.Features, p.Features[:len(b.Features)])
	for _, v := range p.Features[len(b.Features):] {
		require.Zero(t, v)
	}
	for _, v := range p.Mask[len(b.Mask):] {
		require.Zero(t, v)
	}
	require.Len(t, p.EdgeFeatures, (e+7)*b.EdgeFeatureDim)
	require.Equal(t, n, b.NumNodes, "the source batch is left untouched")

	same, err := b.Pad(n, e)
	require.NoError(t, err)
	require.Same(t, b, same)

	_, err = b.Pad(n, e+1)
	require.Error(t, err)
	_, err = b.Pad(n+4, e+2)
	require.Error(t, err)
}
