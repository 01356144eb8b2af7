package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/eval"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Scene.HistoryFrames)
	require.Equal(t, 3, cfg.Scene.FutureFrames)
	require.Equal(t, backboneAuto, cfg.Model.Backbone.Kind)
	require.Equal(t, "test", cfg.Eval.Split)
	require.Equal(t, 32, cfg.Eval.BatchSize)
}

func TestResolveBackbone(t *testing.T) {
	for _, c := range []struct {
		kind    gat.Backbone
		hasMaps bool
		want    gat.Backbone
	}{
		{backboneAuto, true, gat.BackboneMapEncoder},
		{backboneAuto, false, gat.BackboneNone},
		{gat.BackboneNone, true, gat.BackboneNone},
		{gat.BackboneONNX, false, gat.BackboneONNX},
	} {
		cfg := &runConfig{}
		cfg.Model.Backbone.Kind = c.kind
		resolveBackbone(cfg, c.hasMaps)
		require.Equal(t, c.want, cfg.Model.Backbone.Kind, "kind=%s maps=%v", c.kind, c.hasMaps)
	}
}

func TestLimitScenes(t *testing.T) {
	batches := [][]int{{0, 1, 2}, {3, 4, 5}, {6}}
	require.Equal(t, batches, limitScenes(batches, 0))
	require.Equal(t, [][]int{{0, 1, 2}, {3}}, limitScenes(batches, 4))
	require.Equal(t, 7, countScenes(batches))
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "metrics.csv")
	id := uuid.New()
	results := []predictorResult{
		{name: "gat", runID: id, metrics: eval.Metrics{ADE: 1.5, FDE: 2, RMSE: 1.75, StepRMSE: []float64{1, 2, 3}, Steps: 9, Nodes: 3}},
		{name: "constant_velocity", metrics: eval.Metrics{ADE: 0.5, StepRMSE: []float64{0, 0.5, 1}, Steps: 9, Nodes: 3}},
	}
	require.NoError(t, writeCSV(path, datasets.Test, results))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"predictor", "split", "run_id", "ade", "fde", "rmse", "steps", "nodes", "rmse_t1", "rmse_t2", "rmse_t3"}, rows[0])
	require.Equal(t, []string{"gat", "test", id.String(), "1.500000", "2.000000", "1.750000", "9", "3", "1.000000", "2.000000", "3.000000"}, rows[1])
	require.Equal(t, "", rows[2][2], "runs without a store have no run id")
}
