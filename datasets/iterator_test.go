package datasets

import (
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func collectScenes(t *testing.T, it *Iterator) []int {
	t.Helper()
	var scenes []int
	for {
		batch, err := it.Next()
		if err == io.EOF {
			return scenes
		}
		require.NoError(t, err)
		scenes = append(scenes, batch.Scenes...)
	}
}

func TestIteratorEpochs(t *testing.T) {
	ds := newTestDataset(t)
	view := ds.Split(Train)
	it := NewIterator(view, 4)
	require.Equal(t, "scenes/train", it.Name())

	first := collectScenes(t, it)
	require.Len(t, first, view.Len())
	for i, scene := range first {
		want, err := view.SceneIndex(i)
		require.NoError(t, err)
		require.Equal(t, want, scene)
	}
	_, err := it.Next()
	require.ErrorIs(t, err, io.EOF)

	it.Reset()
	require.Equal(t, first, collectScenes(t, it))
}

func TestIteratorShuffleVisitsEverySceneOnce(t *testing.T) {
	ds := newTestDataset(t)
	view := ds.Split(Train)
	ordered := collectScenes(t, NewIterator(view, 3))

	shuffled := collectScenes(t, NewIterator(view, 3).Shuffle(7))
	require.NotEqual(t, ordered, shuffled)
	sort.Ints(shuffled)
	sorted := append([]int(nil), ordered...)
	sort.Ints(sorted)
	require.Equal(t, sorted, shuffled)

	again := collectScenes(t, NewIterator(view, 3).Shuffle(7))
	other := collectScenes(t, NewIterator(view, 3).Shuffle(7))
	require.Equal(t, again, other)
}

func TestIteratorYield(t *testing.T) {
	ds := newTestDataset(t)
	it := NewIterator(ds.Split(Test), 2)
	spec, inputs, labels, err := it.Yield()
	require.NoError(t, err)
	batch := spec.(*GraphBatch)
	require.Len(t, inputs, len(batch.ToGomlxTensors()))
	require.Len(t, labels, 2)
	require.Equal(t, []int{batch.NumNodes, batch.FutureFrames, 2}, labels[0].Shape().Dimensions)
	require.Equal(t, []int{batch.NumNodes, batch.FutureFrames}, labels[1].Shape().Dimensions)
}
