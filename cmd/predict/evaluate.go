package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/eval"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

type predictorResult struct {
	name    string
	metrics eval.Metrics
	runID   uuid.UUID

	// first holds the predictions of the first batch, for plotting.
	first *gat.Prediction
}

func evaluate(cfg *runConfig, view *datasets.SplitView, batches [][]int, p namedPredictor, store *eval.Store) (predictorResult, error) {
	res := predictorResult{name: p.name}
	if store != nil {
		id, err := store.StartRun(p.name, view.Split().String(), cfg)
		if err != nil {
			return res, err
		}
		res.runID = id
	}
	acc := eval.NewAccumulator(cfg.Scene.FutureFrames)
	bar := progressbar.NewOptions(len(batches),
		progressbar.OptionSetDescription(p.name),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for i, indices := range batches {
		batch, err := view.Batch(indices)
		if err != nil {
			return res, err
		}
		pred, err := p.Predict(batch)
		if err != nil {
			return res, errors.WithMessagef(err, "batch %d", i)
		}
		target, mask := batch.TargetOffsets()
		if err := acc.Add(pred, target, mask); err != nil {
			return res, err
		}
		if store != nil {
			if err := store.RecordBatch(res.runID, batch, pred); err != nil {
				return res, err
			}
		}
		if i == 0 {
			res.first = pred
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	res.metrics = acc.Result()
	if store != nil {
		if err := store.FinishRun(res.runID, res.metrics); err != nil {
			return res, err
		}
	}
	return res, nil
}

func writeCSV(path string, split datasets.Split, results []predictorResult) error {
	if err := ensureDir(dirOf(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{"predictor", "split", "run_id", "ade", "fde", "rmse", "steps", "nodes"}
	if len(results) > 0 {
		for t := range results[0].metrics.StepRMSE {
			header = append(header, "rmse_t"+strconv.Itoa(t+1))
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range results {
		runID := ""
		if r.runID != uuid.Nil {
			runID = r.runID.String()
		}
		row := []string{
			r.name,
			split.String(),
			runID,
			formatFloat(r.metrics.ADE),
			formatFloat(r.metrics.FDE),
			formatFloat(r.metrics.RMSE),
			strconv.Itoa(r.metrics.Steps),
			strconv.Itoa(r.metrics.Nodes),
		}
		for _, v := range r.metrics.StepRMSE {
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func dirOf(path string) string {
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
