// predict evaluates the graph-attention trajectory predictor and the
// baselines on one split of a scene dataset.
//
// Usage:
//
//	go run ./cmd/predict -data scenes.npz -split test -checkpoint ckpt -out-csv out/metrics.csv
//	go run ./cmd/predict -print-effective-config
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Noofbiz/trafficgat/baseline"
	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/eval"
	"github.com/Noofbiz/trafficgat/gat"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		klog.Fatalf("invalid configuration: %+v", err)
	}
	if *flagPrintEffectiveConfig {
		out, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(out))
		return
	}

	raw, err := loadRaw(cfg)
	if err != nil {
		klog.Fatalf("failed to load scenes: %+v", err)
	}
	resolveBackbone(cfg, raw.HasMaps())
	klog.Infof("visual backbone: %s", cfg.Model.Backbone.Kind)
	ds, err := datasets.NewSceneDataset(raw, cfg.Scene)
	if err != nil {
		klog.Fatalf("failed to build dataset: %+v", err)
	}
	split, _ := datasets.ParseSplit(cfg.Eval.Split)
	view := ds.Split(split)

	predictors, err := buildPredictors(cfg, ds)
	if err != nil {
		klog.Fatalf("%+v", err)
	}

	var store *eval.Store
	if cfg.Eval.SQLite != "" {
		if err := ensureDir(dirOf(cfg.Eval.SQLite)); err != nil {
			klog.Fatalf("failed to create directory for %s: %v", cfg.Eval.SQLite, err)
		}
		store, err = eval.OpenStore(cfg.Eval.SQLite)
		if err != nil {
			klog.Fatalf("%+v", err)
		}
		defer store.Close()
	}

	batches := view.Batches(cfg.Eval.BatchSize)
	batches = limitScenes(batches, cfg.Eval.MaxScenes)
	klog.Infof("evaluating %d scenes of split %s in %d batches", countScenes(batches), split, len(batches))

	results := make([]predictorResult, 0, len(predictors))
	for _, p := range predictors {
		res, err := evaluate(cfg, view, batches, p, store)
		if err != nil {
			klog.Fatalf("evaluating %s: %+v", p.name, err)
		}
		klog.Infof("%-18s ADE=%.4f FDE=%.4f RMSE=%.4f (steps=%d nodes=%d)", p.name, res.metrics.ADE, res.metrics.FDE, res.metrics.RMSE, res.metrics.Steps, res.metrics.Nodes)
		results = append(results, res)
	}

	if cfg.Eval.OutCSV != "" {
		if err := writeCSV(cfg.Eval.OutCSV, split, results); err != nil {
			klog.Fatalf("failed to write %s: %+v", cfg.Eval.OutCSV, err)
		}
		klog.Infof("metrics written to %s", cfg.Eval.OutCSV)
	}
	if cfg.Eval.Plots != "" {
		if err := writePlots(cfg.Eval.Plots, view, batches, results); err != nil {
			klog.Fatalf("failed to generate plots: %+v", err)
		}
		klog.Infof("plots written to %s", cfg.Eval.Plots)
	}
}

func loadRaw(cfg *runConfig) (*datasets.RawData, error) {
	if cfg.Eval.Data == "" {
		klog.Infof("no -data given, generating %d synthetic scenes", cfg.Eval.SyntheticScenes)
		opts := datasets.SyntheticOptions{Scenes: cfg.Eval.SyntheticScenes, Seed: cfg.Eval.Seed}
		if kind := cfg.Model.Backbone.Kind; kind != "" && kind != gat.BackboneNone && kind != backboneAuto {
			opts.MapSize = cfg.Model.Backbone.ImageSize
		}
		return datasets.Synthetic(cfg.Scene, opts), nil
	}
	return datasets.Load(cfg.Eval.Data, cfg.Scene)
}

type namedPredictor struct {
	name string
	baseline.Predictor
}

func buildPredictors(cfg *runConfig, ds *datasets.SceneDataset) ([]namedPredictor, error) {
	net, err := gat.NewPredictor(cfg.Scene, cfg.Model)
	if err != nil {
		return nil, err
	}
	runner, err := gat.NewRunner(net)
	if err != nil {
		return nil, err
	}
	if cfg.Eval.Checkpoint != "" {
		if err := runner.LoadCheckpoint(cfg.Eval.Checkpoint); err != nil {
			return nil, err
		}
	} else {
		klog.Warning("no -checkpoint given, the graph-attention predictor runs with random parameters")
	}
	knn, err := baseline.NewNearestNeighbour(cfg.Eval.KNNK)
	if err != nil {
		return nil, err
	}
	if err := knn.Index(ds.Split(datasets.Train)); err != nil {
		return nil, err
	}
	return []namedPredictor{
		{"gat", runner},
		{"constant_velocity", baseline.ConstantVelocity{}},
		{"nearest_neighbour", knn},
	}, nil
}

func limitScenes(batches [][]int, maxScenes int) [][]int {
	if maxScenes <= 0 {
		return batches
	}
	out := make([][]int, 0, len(batches))
	left := maxScenes
	for _, b := range batches {
		if left <= 0 {
			break
		}
		if len(b) > left {
			b = b[:left]
		}
		out = append(out, b)
		left -= len(b)
	}
	return out
}

func countScenes(batches [][]int) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
