package eval

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/trafficgat/baseline"
	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/stretchr/testify/require"
)

func TestMaskedMetrics(t *testing.T) {
	pred := gat.NewPrediction(2, 2)
	// Node 0: errors (3,4) then (0,0). Node 1: error (1,0) on step 0; step 1 is masked.
	pred.Set(0, 0, 3, 4)
	pred.Set(1, 0, 1, 0)
	pred.Set(1, 1, 100, 100)
	target := make([]float32, 8)
	mask := []float32{1, 1, 1, 0}

	m, err := Masked(pred, target, mask)
	require.NoError(t, err)
	require.Equal(t, 3, m.Steps)
	require.Equal(t, 2, m.Nodes)
	require.InDelta(t, (5.0+0+1)/3, m.ADE, 1e-9)
	require.InDelta(t, (0.0+1)/2, m.FDE, 1e-9)
	require.InDelta(t, math.Sqrt((25.0+0+1)/3), m.RMSE, 1e-9)
	require.InDelta(t, math.Sqrt(13), m.StepRMSE[0], 1e-9)
	require.InDelta(t, 0, m.StepRMSE[1], 1e-9)
}

func TestMaskedMetricsNoValidSteps(t *testing.T) {
	pred := gat.NewPrediction(1, 3)
	pred.Set(0, 0, 1, 1)
	m, err := Masked(pred, make([]float32, 6), make([]float32, 3))
	require.NoError(t, err)
	require.Equal(t, 0, m.Steps)
	require.Zero(t, m.ADE)
	require.Zero(t, m.FDE)
	require.False(t, math.IsNaN(m.RMSE))

	_, err = Masked(pred, make([]float32, 4), make([]float32, 3))
	require.Error(t, err)
}

func TestAccumulatorMatchesSingleBatch(t *testing.T) {
	a, b := gat.NewPrediction(1, 1), gat.NewPrediction(1, 1)
	a.Set(0, 0, 3, 4)
	b.Set(0, 0, 0, 1)
	acc := NewAccumulator(1)
	require.NoError(t, acc.Add(a, []float32{0, 0}, []float32{1}))
	require.NoError(t, acc.Add(b, []float32{0, 0}, []float32{1}))
	m := acc.Result()
	require.Equal(t, 2, m.Nodes)
	require.InDelta(t, 3, m.ADE, 1e-9)
	require.InDelta(t, 3, m.FDE, 1e-9)
	require.Error(t, acc.Add(gat.NewPrediction(1, 2), make([]float32, 4), make([]float32, 2)))
}

func TestStoreRoundTrip(t *testing.T) {
	cfg := datasets.DefaultSceneConfig()
	cfg.MaxNumObjects = 10
	raw := datasets.Synthetic(cfg, datasets.SyntheticOptions{Scenes: 10, MinObjects: 2, MaxObjects: 8, Seed: 6})
	ds, err := datasets.NewSceneDataset(raw, cfg)
	require.NoError(t, err)
	view := ds.Split(datasets.Train)
	batch, err := view.Batch(view.Batches(3)[0])
	require.NoError(t, err)
	pred, err := baseline.ConstantVelocity{}.Predict(batch)
	require.NoError(t, err)
	target, mask := batch.TargetOffsets()
	m, err := Masked(pred, target, mask)
	require.NoError(t, err)

	store, err := OpenStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer store.Close()

	id, err := store.StartRun("constant_velocity", "train", cfg)
	require.NoError(t, err)
	require.NoError(t, store.RecordBatch(id, batch, pred))
	require.NoError(t, store.FinishRun(id, m))

	run, err := store.Run(id)
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, "constant_velocity", run.Predictor)
	require.True(t, run.Finished)
	require.InDelta(t, m.ADE, run.Metrics.ADE, 1e-9)
	require.Equal(t, m.StepRMSE, run.Metrics.StepRMSE)
	require.Contains(t, string(run.Config), `"history_frames":5`)

	total, valid, err := store.CountPredictions(id)
	require.NoError(t, err)
	require.Equal(t, batch.NumNodes*cfg.FutureFrames, total)
	require.Equal(t, m.Steps, valid)

	other, err := store.StartRun("gat", "train", nil)
	require.NoError(t, err)
	require.NotEqual(t, id, other)
	require.NoError(t, store.RecordBatch(other, batch, pred))
	total, _, err = store.CountPredictions(other)
	require.NoError(t, err)
	require.Equal(t, batch.NumNodes*cfg.FutureFrames, total)
}
