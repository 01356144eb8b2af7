package main

// Example command that loads (or synthesizes) a scene file, builds the graph
// of a few scenes and collates them into a batch ready for the predictor.
//
// Usage:
//   go run ./datasets/example -data scenes.npz
//   go run ./datasets/example -write synthetic.npz
//
// Without -data a small synthetic dataset is generated in memory.

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/trafficgat/datasets"
)

var (
	flagData   = flag.String("data", "", "path to a .npz or .gob scene file")
	flagWrite  = flag.String("write", "", "if set, write the synthetic scenes to this .npz file")
	flagScenes = flag.Int("scenes", 4, "number of training scenes to show")
)

func main() {
	flag.Parse()
	cfg := datasets.DefaultSceneConfig()

	var raw *datasets.RawData
	if *flagData != "" {
		var err error
		raw, err = datasets.Load(*flagData, cfg)
		if err != nil {
			log.Fatalf("failed to load %s: %+v", *flagData, err)
		}
	} else {
		raw = datasets.Synthetic(cfg, datasets.SyntheticOptions{Scenes: 50, Seed: 1})
		if *flagWrite != "" {
			if err := datasets.WriteNpz(*flagWrite, raw); err != nil {
				log.Fatalf("failed to write %s: %+v", *flagWrite, err)
			}
			fmt.Printf("Synthetic scenes written to %s\n", *flagWrite)
		}
	}

	ds, err := datasets.NewSceneDataset(raw, cfg)
	if err != nil {
		log.Fatalf("failed to build dataset: %+v", err)
	}
	for _, split := range []datasets.Split{datasets.Train, datasets.Validation, datasets.Test} {
		fmt.Printf("%-10s %d scenes\n", split, ds.Split(split).Len())
	}

	train := ds.Split(datasets.Train)
	n := min(*flagScenes, train.Len())
	if n == 0 {
		fmt.Println("No training scenes available.")
		return
	}
	for i := range n {
		g, err := train.Example(i)
		if err != nil {
			log.Fatalf("failed to build scene %d: %+v", i, err)
		}
		supervised := 0
		for node := range g.NumNodes {
			if g.Mask[node*g.FutureFrames] != 0 {
				supervised++
			}
		}
		x, y := g.Position(0, g.HistoryFrames-1)
		fmt.Printf("  scene %4d: nodes=%d edges=%d supervised=%d first node at (%.2f, %.2f)\n",
			g.Scene, g.NumNodes, g.NumEdges(), supervised, x, y)
	}

	batch, err := datasets.NewIterator(train, n).Shuffle(1).Next()
	if err != nil {
		log.Fatalf("failed to collate batch: %+v", err)
	}
	inputs := batch.ToGomlxTensors()
	fmt.Printf("Shuffled batch of scenes %v: %d nodes, %d edges, %d input tensors\n",
		batch.Scenes, batch.NumNodes, batch.NumEdges(), len(inputs))
	for i, t := range inputs {
		fmt.Printf("  input %d: %s\n", i, t.Shape())
	}
}
