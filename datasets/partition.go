package datasets

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Split names one of the three partitions of a dataset.
type Split int

const (
	Train Split = iota
	Validation
	Test
)

// Splits lists all splits in partition order.
var Splits = []Split{Train, Validation, Test}

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Validation:
		return "validation"
	case Test:
		return "test"
	}
	return "Split(?)"
}

// ParseSplit accepts "train", "validation" (or "val") and "test", in any case.
func ParseSplit(name string) (Split, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "train":
		return Train, nil
	case "validation", "val":
		return Validation, nil
	case "test":
		return Test, nil
	}
	return 0, errors.Wrapf(ErrInvalidSplit, "%q is not one of train, validation or test", name)
}

func (s Split) valid() bool { return s >= Train && s <= Test }

// Fractions are the cumulative boundaries of the train and validation
// partitions: train is [0, TrainEnd), validation [TrainEnd, ValidationEnd)
// and test the remainder.
type Fractions struct {
	TrainEnd      float64
	ValidationEnd float64
}

// DefaultFractions is the 70% / 20% / 10% partition.
var DefaultFractions = Fractions{TrainEnd: 0.7, ValidationEnd: 0.9}

// Partition holds the scene indices of each split, in the order of the
// filtered scene list.
type Partition struct {
	Train      []int
	Validation []int
	Test       []int

	// Excluded lists scenes left out of all splits, with the reason.
	Excluded map[int]error
}

// Indices returns the scene indices of split.
func (p *Partition) Indices(split Split) ([]int, error) {
	switch split {
	case Train:
		return p.Train, nil
	case Validation:
		return p.Validation, nil
	case Test:
		return p.Test, nil
	}
	return nil, errors.Wrapf(ErrInvalidSplit, "split %d", int(split))
}

// PartitionScenes cuts scenes into train, validation and test without
// shuffling. The boundaries are round(f·n) for the cumulative fractions f,
// rounding halves to even.
func PartitionScenes(scenes []int, frac Fractions) (*Partition, error) {
	if frac.TrainEnd < 0 || frac.TrainEnd > frac.ValidationEnd || frac.ValidationEnd > 1 {
		return nil, errors.Errorf("invalid split fractions %+v", frac)
	}
	n := float64(len(scenes))
	a := int(math.RoundToEven(n * frac.TrainEnd))
	b := int(math.RoundToEven(n * frac.ValidationEnd))
	return &Partition{
		Train:      append([]int(nil), scenes[:a]...),
		Validation: append([]int(nil), scenes[a:b]...),
		Test:       append([]int(nil), scenes[b:]...),
		Excluded:   map[int]error{},
	}, nil
}

// PartitionDataset filters out scenes without active nodes or without any
// valid future label and partitions the rest.
func PartitionDataset(b *Builder, frac Fractions) (*Partition, error) {
	raw, cfg := b.Raw(), b.Config()
	excluded := map[int]error{}
	kept := make([]int, 0, raw.NumScenes)
	for scene := range raw.NumScenes {
		n, _ := b.LastVisibleObject(scene)
		if n == 0 {
			excluded[scene] = errors.Wrapf(ErrEmptyScene, "scene %d", scene)
			continue
		}
		if !hasValidFuture(raw, cfg, scene, n) {
			excluded[scene] = errors.Errorf("scene %d has no valid future label", scene)
			continue
		}
		kept = append(kept, scene)
	}
	p, err := PartitionScenes(kept, frac)
	if err != nil {
		return nil, err
	}
	p.Excluded = excluded
	return p, nil
}

// hasValidFuture reports whether any of the first active node slots of scene
// is a car with a valid future position, that is whether the mask the
// builder returns for the scene has a non-zero entry.
func hasValidFuture(raw *RawData, cfg SceneConfig, scene, active int) bool {
	last := cfg.LastHistoryFrame()
	classCh, validCh := cfg.ClassChannel(), cfg.ValidChannel()
	for i := range active {
		if int32(raw.at(scene, i, last, classCh)) != int32(cfg.CarClass) {
			continue
		}
		for t := cfg.HistoryFrames; t < cfg.TotalFrames(); t++ {
			if raw.at(scene, i, t, validCh) != 0 {
				return true
			}
		}
	}
	return false
}
