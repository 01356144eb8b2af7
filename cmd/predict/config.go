package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/pkg/errors"
)

// defaultConfigJSON is the configuration used when no -config file is given.
// A -config file is merged on top of it and explicitly set flags on top of
// both.
const defaultConfigJSON = `{
  "scene": {
    "history_frames": 5,
    "future_frames": 3,
    "max_num_objects": 120,
    "num_channels": 7,
    "feature_channels": [0, 1, 2, 3, 4],
    "car_class": 1,
    "edge_feature_dim": 1,
    "layout": "NCTV"
  },
  "model": {
    "hidden_dim": 256,
    "heads": 1,
    "dropout": 0.2,
    "feat_drop": 0,
    "attn_drop": 0,
    "att_ew": true,
    "residual": true,
    "negative_slope": 0.01,
    "backbone": {
      "kind": "auto",
      "image_channels": 3,
      "image_size": 112,
      "freeze": false
    }
  },
  "eval": {
    "split": "test",
    "batch_size": 32,
    "knn_k": 8,
    "max_scenes": 0,
    "synthetic_scenes": 200,
    "seed": 1
  }
}
`

// backboneAuto selects the map encoder for scenes with map patches and no
// visual features otherwise, see resolveBackbone.
const backboneAuto gat.Backbone = "auto"

type evalConfig struct {
	Data            string `json:"data"`
	Split           string `json:"split"`
	Checkpoint      string `json:"checkpoint"`
	BatchSize       int    `json:"batch_size"`
	KNNK            int    `json:"knn_k"`
	MaxScenes       int    `json:"max_scenes"`
	SyntheticScenes int    `json:"synthetic_scenes"`
	Seed            int64  `json:"seed"`

	OutCSV string `json:"out_csv"`
	SQLite string `json:"sqlite"`
	Plots  string `json:"plots"`
}

type runConfig struct {
	Scene datasets.SceneConfig `json:"scene"`
	Model gat.Config           `json:"model"`
	Eval  evalConfig           `json:"eval"`
}

var (
	flagConfig     = flag.String("config", "", "path to a JSON configuration merged over the defaults")
	flagData       = flag.String("data", "", "path to a .npz or .gob scene file; empty generates synthetic scenes")
	flagSplit      = flag.String("split", "test", "split to evaluate: train, validation or test")
	flagCheckpoint = flag.String("checkpoint", "", "checkpoint directory with trained predictor parameters")
	flagBatchSize  = flag.Int("batch-size", 32, "number of scenes per batch")
	flagHidden     = flag.Int("hidden", 256, "hidden dimension of the predictor")
	flagHeads      = flag.Int("heads", 1, "attention heads of the first attention stage")
	flagBackbone   = flag.String("backbone", string(backboneAuto), "visual feature extractor: auto, none, map_encoder or onnx; auto picks map_encoder when the scenes carry maps")
	flagONNXModel  = flag.String("onnx-model", "", "path to the .onnx backbone when -backbone=onnx")
	flagKNNK       = flag.Int("knn-k", 8, "neighbours of the nearest-neighbour baseline")
	flagOutCSV     = flag.String("out-csv", "", "if set, write per-predictor metrics to this CSV file")
	flagSQLite     = flag.String("sqlite", "", "if set, store runs and predictions in this sqlite database")
	flagPlots      = flag.String("plots", "", "if set, write error and trajectory plots to this directory")
	flagMaxScenes  = flag.Int("max-scenes", 0, "evaluate at most this many scenes of the split (0 = all)")
	flagSynthetic  = flag.Int("synthetic-scenes", 200, "number of synthetic scenes generated when -data is empty")
	flagSeed       = flag.Int64("seed", 1, "seed of the synthetic scenes")

	flagPrintEffectiveConfig = flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
)

// loadConfig merges the embedded defaults, the -config file and the flags
// that were set explicitly.
func loadConfig() (*runConfig, error) {
	cfg := &runConfig{}
	if err := json.Unmarshal([]byte(defaultConfigJSON), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing default configuration")
	}
	if *flagConfig != "" {
		data, err := os.ReadFile(*flagConfig)
		if err != nil {
			return nil, errors.Wrapf(err, "reading configuration %q", *flagConfig)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing configuration %q", *flagConfig)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Eval.Data = *flagData
		case "split":
			cfg.Eval.Split = *flagSplit
		case "checkpoint":
			cfg.Eval.Checkpoint = *flagCheckpoint
		case "batch-size":
			cfg.Eval.BatchSize = *flagBatchSize
		case "hidden":
			cfg.Model.HiddenDim = *flagHidden
		case "heads":
			cfg.Model.Heads = *flagHeads
		case "backbone":
			cfg.Model.Backbone.Kind = gat.Backbone(*flagBackbone)
		case "onnx-model":
			cfg.Model.Backbone.ModelPath = *flagONNXModel
		case "knn-k":
			cfg.Eval.KNNK = *flagKNNK
		case "out-csv":
			cfg.Eval.OutCSV = *flagOutCSV
		case "sqlite":
			cfg.Eval.SQLite = *flagSQLite
		case "plots":
			cfg.Eval.Plots = *flagPlots
		case "max-scenes":
			cfg.Eval.MaxScenes = *flagMaxScenes
		case "synthetic-scenes":
			cfg.Eval.SyntheticScenes = *flagSynthetic
		case "seed":
			cfg.Eval.Seed = *flagSeed
		}
	})
	if cfg.Eval.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.Eval.BatchSize)
	}
	if _, err := datasets.ParseSplit(cfg.Eval.Split); err != nil {
		return nil, err
	}
	cfg.Scene = cfg.Scene.WithDefaults()
	return cfg, cfg.Scene.Validate()
}

// resolveBackbone replaces the "auto" backbone once it is known whether the
// scenes carry map patches.
func resolveBackbone(cfg *runConfig, hasMaps bool) {
	if cfg.Model.Backbone.Kind != backboneAuto {
		return
	}
	if hasMaps {
		cfg.Model.Backbone.Kind = gat.BackboneMapEncoder
	} else {
		cfg.Model.Backbone.Kind = gat.BackboneNone
	}
}
