package baseline

import (
	"testing"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/stretchr/testify/require"
)

// straightLine builds a single-node batch moving by (vx, vy) per frame from (x0, y0).
func straightLine(cfg datasets.SceneConfig, x0, y0, vx, vy float32) *datasets.GraphBatch {
	fd := cfg.FeatureDim()
	g := &datasets.SceneGraph{
		NumNodes:       1,
		HistoryFrames:  cfg.HistoryFrames,
		FutureFrames:   cfg.FutureFrames,
		FeatureDim:     fd,
		Src:            []int32{0},
		Dst:            []int32{0},
		EdgeFeatures:   []float32{1},
		EdgeFeatureDim: 1,
		Features:       make([]float32, cfg.HistoryFrames*fd),
		Labels:         make([]float32, cfg.FutureFrames*fd),
		Mask:           make([]float32, cfg.FutureFrames),
	}
	for t := range cfg.HistoryFrames {
		g.Features[t*fd] = x0 + float32(t)*vx
		g.Features[t*fd+1] = y0 + float32(t)*vy
	}
	for t := range cfg.FutureFrames {
		k := float32(cfg.HistoryFrames + t)
		g.Labels[t*fd] = x0 + k*vx
		g.Labels[t*fd+1] = y0 + k*vy
		g.Mask[t] = 1
	}
	batch, err := datasets.Collate([]*datasets.SceneGraph{g})
	if err != nil {
		panic(err)
	}
	return batch
}

type batchDataset []*datasets.GraphBatch

func (d batchDataset) Len() int { return len(d) }

func (d batchDataset) Example(i int) (*datasets.SceneGraph, error) {
	b := d[i]
	return &datasets.SceneGraph{
		NumNodes:       b.NumNodes,
		HistoryFrames:  b.HistoryFrames,
		FutureFrames:   b.FutureFrames,
		FeatureDim:     b.FeatureDim,
		Src:            b.Src,
		Dst:            b.Dst,
		EdgeFeatures:   b.EdgeFeatures,
		EdgeFeatureDim: b.EdgeFeatureDim,
		Features:       b.Features,
		Labels:         b.Labels,
		Mask:           b.Mask,
	}, nil
}

func (d batchDataset) Batch(indices []int) (*datasets.GraphBatch, error) { return d[indices[0]], nil }

func TestConstantVelocity(t *testing.T) {
	cfg := datasets.DefaultSceneConfig()
	batch := straightLine(cfg, 10, 20, 1.5, -0.5)
	pred, err := ConstantVelocity{}.Predict(batch)
	require.NoError(t, err)
	offsets, _ := batch.TargetOffsets()
	require.InDeltaSlice(t, offsets, pred.Offsets, 1e-5)

	cfg.HistoryFrames = 1
	pred, err = ConstantVelocity{}.Predict(straightLine(cfg, 1, 1, 3, 3))
	require.NoError(t, err)
	require.Equal(t, make([]float32, 2*cfg.FutureFrames), pred.Offsets)
}

func TestNearestNeighbour(t *testing.T) {
	cfg := datasets.DefaultSceneConfig()
	ds := batchDataset{
		straightLine(cfg, 0, 0, 1, 0),
		straightLine(cfg, 100, 100, 1.1, 0),
		straightLine(cfg, 5, 5, 0, -2),
	}
	_, err := NewNearestNeighbour(0)
	require.Error(t, err)

	nn, err := NewNearestNeighbour(2)
	require.NoError(t, err)
	_, err = nn.Predict(ds[0])
	require.Error(t, err, "empty index")
	require.NoError(t, nn.Index(ds))
	require.Equal(t, 3, nn.Len())

	// The two rightward movers are closest to a rightward query regardless of position.
	pred, err := nn.Predict(straightLine(cfg, -50, 7, 1.05, 0))
	require.NoError(t, err)
	for k := range cfg.FutureFrames {
		dx, dy := pred.At(0, k)
		require.InDelta(t, float64(k+1)*1.05, dx, 1e-4)
		require.InDelta(t, 0, dy, 1e-5)
	}

	nn.K = 1
	pred, err = nn.Predict(straightLine(cfg, 0, 0, 0, -2))
	require.NoError(t, err)
	_, dy := pred.At(0, 2)
	require.InDelta(t, -6, dy, 1e-5)

	other := cfg
	other.FutureFrames = 5
	_, err = nn.Predict(straightLine(other, 0, 0, 1, 1))
	require.Error(t, err)
}

func TestNearestNeighbourOnSynthetic(t *testing.T) {
	cfg := datasets.DefaultSceneConfig()
	cfg.MaxNumObjects = 12
	raw := datasets.Synthetic(cfg, datasets.SyntheticOptions{Scenes: 20, MinObjects: 2, MaxObjects: 10, Seed: 4})
	ds, err := datasets.NewSceneDataset(raw, cfg)
	require.NoError(t, err)

	nn, err := NewNearestNeighbour(3)
	require.NoError(t, err)
	require.NoError(t, nn.Index(ds.Split(datasets.Train)))
	require.Positive(t, nn.Len())

	test := ds.Split(datasets.Test)
	batch, err := test.Batch(test.Batches(8)[0])
	require.NoError(t, err)
	pred, err := nn.Predict(batch)
	require.NoError(t, err)
	require.Len(t, pred.Offsets, batch.NumNodes*cfg.FutureFrames*2)
}
