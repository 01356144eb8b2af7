package datasets

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// SceneGraph is one scene turned into a directed attributed graph. Node i of
// the graph is node slot i of the raw scene. All slices are freshly allocated
// and owned by the SceneGraph.
type SceneGraph struct {
	// Scene is the index of the scene in the raw data.
	Scene int

	NumNodes      int
	HistoryFrames int
	FutureFrames  int
	FeatureDim    int

	// Src and Dst hold the edge endpoints (Src[e] → Dst[e]). Edges from the
	// adjacency come first in row-major order, followed by one self-loop per
	// node in node order.
	Src []int32
	Dst []int32

	// EdgeFeatures is edges × EdgeFeatureDim. Column 0 is the inverse-distance
	// weight; column 1, when present, is the same-class flag.
	EdgeFeatures   []float32
	EdgeFeatureDim int

	// Features is nodes × HistoryFrames × FeatureDim.
	Features []float32

	// Labels is nodes × FutureFrames × FeatureDim.
	Labels []float32

	// Mask is nodes × FutureFrames: 1 where the node is a car at the last
	// history frame and its future position is valid.
	Mask []float32

	// MeanXY is the scene reference offset, carried through unchanged.
	MeanXY [2]float32

	// Maps is nodes × MapChannels × MapHeight × MapWidth, or nil.
	Maps        []float32
	MapChannels int
	MapHeight   int
	MapWidth    int
}

// NumEdges returns the number of directed edges, self-loops included.
func (g *SceneGraph) NumEdges() int { return len(g.Src) }

// EdgeWeight returns the inverse-distance weight of edge e.
func (g *SceneGraph) EdgeWeight(e int) float32 { return g.EdgeFeatures[e*g.EdgeFeatureDim] }

// InDegrees counts incoming edges per node.
func (g *SceneGraph) InDegrees() []int {
	deg := make([]int, g.NumNodes)
	for _, d := range g.Dst {
		deg[d]++
	}
	return deg
}

// Position returns the (x, y) of node at history frame t.
func (g *SceneGraph) Position(node, t int) (x, y float32) {
	base := (node*g.HistoryFrames + t) * g.FeatureDim
	return g.Features[base], g.Features[base+1]
}

// CheckInDegree verifies that every node in [0, numNodes) has at least one
// incoming edge.
func CheckInDegree(dst []int32, numNodes int) error {
	seen := make([]bool, numNodes)
	for e, d := range dst {
		if d < 0 || int(d) >= numNodes {
			return errors.Wrapf(ErrDegenerateGraph, "edge %d points to node %d, graph has %d nodes", e, d, numNodes)
		}
		seen[d] = true
	}
	for i, ok := range seen {
		if !ok {
			return errors.Wrapf(ErrDegenerateGraph, "node %d has in-degree 0", i)
		}
	}
	return nil
}

// Builder turns raw scenes into SceneGraphs. It holds no mutable state: every
// call to Build recomputes the graph from the raw arrays.
type Builder struct {
	raw *RawData
	cfg SceneConfig
}

// NewBuilder validates raw against cfg and returns a Builder. Node slots
// beyond cfg.MaxNumObjects and frames beyond the history and future windows
// are dropped.
func NewBuilder(raw *RawData, cfg SceneConfig) (*Builder, error) {
	if raw == nil {
		return nil, errors.New("raw data is nil")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := raw.Validate(cfg); err != nil {
		return nil, err
	}
	if raw.NumNodes > cfg.MaxNumObjects {
		klog.V(1).Infof("raw data has %d node slots, keeping the first %d", raw.NumNodes, cfg.MaxNumObjects)
	}
	return &Builder{raw: raw.Truncate(cfg.MaxNumObjects, cfg.TotalFrames()), cfg: cfg}, nil
}

// Config returns the scene configuration in use.
func (b *Builder) Config() SceneConfig { return b.cfg }

// Raw returns the raw data the builder reads from.
func (b *Builder) Raw() *RawData { return b.raw }

// LastVisibleObject returns the number of active nodes of scene: the index of
// the first node slot whose adjacency self-entry is zero. When every slot has
// a non-zero self-entry it returns the full capacity and full=true.
func (b *Builder) LastVisibleObject(scene int) (count int, full bool) {
	for i := range b.raw.NumNodes {
		if b.raw.adjacency(scene, i, i) == 0 {
			return i, false
		}
	}
	return b.raw.NumNodes, true
}

// Build constructs the graph of scene.
func (b *Builder) Build(scene int) (*SceneGraph, error) {
	if scene < 0 || scene >= b.raw.NumScenes {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "scene %d not in [0, %d)", scene, b.raw.NumScenes)
	}
	n, full := b.LastVisibleObject(scene)
	if full {
		klog.V(1).Infof("scene %d: no free node slot on the adjacency diagonal, using all %d slots", scene, n)
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrEmptyScene, "scene %d", scene)
	}

	cfg := b.cfg
	fd := cfg.FeatureDim()
	g := &SceneGraph{
		Scene:          scene,
		NumNodes:       n,
		HistoryFrames:  cfg.HistoryFrames,
		FutureFrames:   cfg.FutureFrames,
		FeatureDim:     fd,
		EdgeFeatureDim: cfg.EdgeFeatureDim,
		Features:       make([]float32, n*cfg.HistoryFrames*fd),
		Labels:         make([]float32, n*cfg.FutureFrames*fd),
		Mask:           make([]float32, n*cfg.FutureFrames),
		MeanXY:         [2]float32{b.raw.MeanXY[2*scene], b.raw.MeanXY[2*scene+1]},
	}
	last := cfg.LastHistoryFrame()
	classCh, validCh := cfg.ClassChannel(), cfg.ValidChannel()
	for i := range n {
		for t := range cfg.HistoryFrames {
			for k, ch := range cfg.FeatureChannels {
				g.Features[(i*cfg.HistoryFrames+t)*fd+k] = b.raw.at(scene, i, t, ch)
			}
		}
		for t := range cfg.FutureFrames {
			for k, ch := range cfg.FeatureChannels {
				g.Labels[(i*cfg.FutureFrames+t)*fd+k] = b.raw.at(scene, i, cfg.HistoryFrames+t, ch)
			}
		}
		if int32(b.raw.at(scene, i, last, classCh)) != int32(cfg.CarClass) {
			continue
		}
		for t := range cfg.FutureFrames {
			if b.raw.at(scene, i, cfg.HistoryFrames+t, validCh) != 0 {
				g.Mask[i*cfg.FutureFrames+t] = 1
			}
		}
	}

	// Edges of the truncated adjacency, without its self-loops.
	for i := range n {
		for j := range n {
			if i != j && b.raw.adjacency(scene, i, j) != 0 {
				g.Src = append(g.Src, int32(i))
				g.Dst = append(g.Dst, int32(j))
			}
		}
	}
	for i := range n {
		g.Src = append(g.Src, int32(i))
		g.Dst = append(g.Dst, int32(i))
	}

	g.EdgeFeatures = make([]float32, len(g.Src)*cfg.EdgeFeatureDim)
	pi, pj := make([]float64, 2), make([]float64, 2)
	for e := range g.Src {
		i, j := int(g.Src[e]), int(g.Dst[e])
		pi[0], pi[1] = float64(b.raw.at(scene, i, last, 0)), float64(b.raw.at(scene, i, last, 1))
		pj[0], pj[1] = float64(b.raw.at(scene, j, last, 0)), float64(b.raw.at(scene, j, last, 1))
		g.EdgeFeatures[e*cfg.EdgeFeatureDim] = InverseDistance(floats.Distance(pi, pj, 2))
		if cfg.EdgeFeatureDim == 2 && b.raw.at(scene, i, last, classCh) == b.raw.at(scene, j, last, classCh) {
			g.EdgeFeatures[e*cfg.EdgeFeatureDim+1] = 1
		}
	}

	if b.raw.HasMaps() {
		size := b.raw.MapSize()
		g.Maps = make([]float32, n*size)
		copy(g.Maps, b.raw.Maps[scene*b.raw.NumNodes*size:])
		g.MapChannels, g.MapHeight, g.MapWidth = b.raw.MapChannels, b.raw.MapHeight, b.raw.MapWidth
	}
	return g, nil
}

// InverseDistance is the edge weight of two nodes at distance d: 1/d, or 1
// when d is zero.
func InverseDistance(d float64) float32 {
	if d == 0 {
		return 1
	}
	return float32(1 / d)
}

// BuildSceneGraph is a shortcut for NewBuilder followed by Build.
func BuildSceneGraph(raw *RawData, cfg SceneConfig, scene int) (*SceneGraph, error) {
	b, err := NewBuilder(raw, cfg)
	if err != nil {
		return nil, err
	}
	return b.Build(scene)
}
