package datasets

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SceneDataset gives split-aware access to the scenes of a raw data file.
// The raw arrays are loaded once; graphs are rebuilt on every access.
type SceneDataset struct {
	builder   *Builder
	partition *Partition

	rotationProb float64
	rngMu        sync.Mutex
	rng          *rand.Rand
}

// Option configures a SceneDataset.
type Option func(*SceneDataset)

// WithRotation randomly rotates training scenes about the origin with the
// given probability, using a generator seeded with seed.
func WithRotation(probability float64, seed int64) Option {
	return func(d *SceneDataset) {
		d.rotationProb = probability
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// NewSceneDataset builds the scene partition of raw.
func NewSceneDataset(raw *RawData, cfg SceneConfig, opts ...Option) (*SceneDataset, error) {
	b, err := NewBuilder(raw, cfg)
	if err != nil {
		return nil, err
	}
	p, err := PartitionDataset(b, DefaultFractions)
	if err != nil {
		return nil, err
	}
	d := &SceneDataset{builder: b, partition: p}
	for _, opt := range opts {
		opt(d)
	}
	klog.Infof("scene dataset: %d scenes, %d excluded, train=%d validation=%d test=%d",
		raw.NumScenes, len(p.Excluded), len(p.Train), len(p.Validation), len(p.Test))
	return d, nil
}

// Config returns the scene configuration.
func (d *SceneDataset) Config() SceneConfig { return d.builder.Config() }

// Partition returns the split indices. The returned value must not be modified.
func (d *SceneDataset) Partition() *Partition { return d.partition }

// Builder returns the scene graph builder.
func (d *SceneDataset) Builder() *Builder { return d.builder }

// Len returns the number of scenes of the named split.
func (d *SceneDataset) Len(split string) (int, error) {
	s, err := ParseSplit(split)
	if err != nil {
		return 0, err
	}
	return d.Split(s).Len(), nil
}

// Get returns the i-th scene of the named split.
func (d *SceneDataset) Get(split string, i int) (*SceneGraph, error) {
	s, err := ParseSplit(split)
	if err != nil {
		return nil, err
	}
	return d.Split(s).Example(i)
}

// Split returns a view of one split. Invalid splits yield an empty view
// whose Example always fails with ErrInvalidSplit.
func (d *SceneDataset) Split(split Split) *SplitView {
	indices, _ := d.partition.Indices(split)
	return &SplitView{ds: d, split: split, indices: indices}
}

func (d *SceneDataset) maybeRotate(g *SceneGraph) *SceneGraph {
	if d.rng == nil || d.rotationProb <= 0 {
		return g
	}
	d.rngMu.Lock()
	apply := d.rng.Float64() < d.rotationProb
	angle := 2 * math.Pi * d.rng.Float64()
	d.rngMu.Unlock()
	if !apply {
		return g
	}
	return g.Rotated(angle)
}

// SplitView is one split of a SceneDataset. It implements Dataset.
type SplitView struct {
	ds      *SceneDataset
	split   Split
	indices []int
}

var _ Dataset = (*SplitView)(nil)

// Split returns which split this view covers.
func (v *SplitView) Split() Split { return v.split }

// Len returns the number of scenes in the split.
func (v *SplitView) Len() int { return len(v.indices) }

// SceneIndex maps a split position to the raw scene index.
func (v *SplitView) SceneIndex(i int) (int, error) {
	if !v.split.valid() {
		return 0, errors.Wrapf(ErrInvalidSplit, "split %d", int(v.split))
	}
	if i < 0 || i >= len(v.indices) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d out of range [0, %d) of %s split", i, len(v.indices), v.split)
	}
	return v.indices[i], nil
}

// Example builds the graph of the i-th scene of the split.
func (v *SplitView) Example(i int) (*SceneGraph, error) {
	scene, err := v.SceneIndex(i)
	if err != nil {
		return nil, err
	}
	g, err := v.ds.builder.Build(scene)
	if err != nil {
		return nil, err
	}
	if v.split == Train {
		g = v.ds.maybeRotate(g)
	}
	return g, nil
}

// Batch builds and collates the scenes at the given split positions.
func (v *SplitView) Batch(indices []int) (*GraphBatch, error) {
	graphs := make([]*SceneGraph, 0, len(indices))
	for _, i := range indices {
		g, err := v.Example(i)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return Collate(graphs)
}

// Batches splits the view into consecutive batches of at most batchSize scenes.
func (v *SplitView) Batches(batchSize int) [][]int {
	if batchSize <= 0 {
		batchSize = 1
	}
	var out [][]int
	for start := 0; start < v.Len(); start += batchSize {
		end := min(start+batchSize, v.Len())
		idx := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
		out = append(out, idx)
	}
	return out
}
