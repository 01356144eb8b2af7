package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// GraphBatch is several scene graphs merged into a single disjoint graph.
// Node arrays are concatenated in graph order and edge endpoints are shifted
// by the number of nodes of the preceding graphs.
type GraphBatch struct {
	NumNodes       int
	HistoryFrames  int
	FutureFrames   int
	FeatureDim     int
	EdgeFeatureDim int

	// NodeOffsets has one entry per graph plus a final entry equal to NumNodes:
	// graph k owns nodes [NodeOffsets[k], NodeOffsets[k+1]).
	NodeOffsets []int

	// Scenes holds the raw scene index of each graph.
	Scenes []int

	Src          []int32
	Dst          []int32
	EdgeFeatures []float32
	Features     []float32
	Labels       []float32
	Mask         []float32

	// Maps is nodes × MapChannels × MapHeight × MapWidth, or nil.
	Maps        []float32
	MapChannels int
	MapHeight   int
	MapWidth    int
}

// NumGraphs is the number of scenes in the batch.
func (b *GraphBatch) NumGraphs() int { return len(b.Scenes) }

// NumEdges is the total number of edges.
func (b *GraphBatch) NumEdges() int { return len(b.Src) }

// Collate merges graphs into one GraphBatch. All graphs must share window
// sizes, feature dimensions and map shapes.
func Collate(graphs []*SceneGraph) (*GraphBatch, error) {
	if len(graphs) == 0 {
		return nil, errors.New("cannot collate an empty list of graphs")
	}
	first := graphs[0]
	b := &GraphBatch{
		HistoryFrames:  first.HistoryFrames,
		FutureFrames:   first.FutureFrames,
		FeatureDim:     first.FeatureDim,
		EdgeFeatureDim: first.EdgeFeatureDim,
		NodeOffsets:    make([]int, 0, len(graphs)+1),
		Scenes:         make([]int, 0, len(graphs)),
		MapChannels:    first.MapChannels,
		MapHeight:      first.MapHeight,
		MapWidth:       first.MapWidth,
	}
	withMaps := first.Maps != nil
	for k, g := range graphs {
		if g.HistoryFrames != b.HistoryFrames || g.FutureFrames != b.FutureFrames ||
			g.FeatureDim != b.FeatureDim || g.EdgeFeatureDim != b.EdgeFeatureDim {
			return nil, dataFormatErrorf("graph %d (scene %d) has a different layout than graph 0", k, g.Scene)
		}
		if (g.Maps != nil) != withMaps || g.MapChannels != b.MapChannels ||
			g.MapHeight != b.MapHeight || g.MapWidth != b.MapWidth {
			return nil, dataFormatErrorf("graph %d (scene %d) has different map patches than graph 0", k, g.Scene)
		}
		offset := int32(b.NumNodes)
		b.NodeOffsets = append(b.NodeOffsets, b.NumNodes)
		b.Scenes = append(b.Scenes, g.Scene)
		for e := range g.Src {
			b.Src = append(b.Src, g.Src[e]+offset)
			b.Dst = append(b.Dst, g.Dst[e]+offset)
		}
		b.EdgeFeatures = append(b.EdgeFeatures, g.EdgeFeatures...)
		b.Features = append(b.Features, g.Features...)
		b.Labels = append(b.Labels, g.Labels...)
		b.Mask = append(b.Mask, g.Mask...)
		if withMaps {
			b.Maps = append(b.Maps, g.Maps...)
		}
		b.NumNodes += g.NumNodes
	}
	b.NodeOffsets = append(b.NodeOffsets, b.NumNodes)
	return b, nil
}

// PadBucket rounds n up to the next power of two, and to at least minimum.
func PadBucket(n, minimum int) int {
	size := max(minimum, 1)
	for size < n {
		size *= 2
	}
	return size
}

// Pad returns a copy of b grown to numNodes nodes and numEdges edges. Padding
// nodes have zero features, labels, mask and maps and belong to no graph:
// NodeOffsets and Scenes are unchanged. Each padding node gets a self-loop and
// the remaining padding edges are self-loops of the first padding node, so no
// padding edge reaches a real node. Edge features of padding edges are zero.
func (b *GraphBatch) Pad(numNodes, numEdges int) (*GraphBatch, error) {
	extraNodes, extraEdges := numNodes-b.NumNodes, numEdges-b.NumEdges()
	if extraNodes == 0 && extraEdges == 0 {
		return b, nil
	}
	if extraNodes < 1 || extraEdges < extraNodes {
		return nil, errors.Errorf("cannot pad batch of %d nodes / %d edges to %d nodes / %d edges: need at least one more node and one more edge per added node",
			b.NumNodes, b.NumEdges(), numNodes, numEdges)
	}
	p := *b
	p.NumNodes = numNodes
	p.Features = grow(b.Features, numNodes*b.HistoryFrames*b.FeatureDim)
	p.Labels = grow(b.Labels, numNodes*b.FutureFrames*b.FeatureDim)
	p.Mask = grow(b.Mask, numNodes*b.FutureFrames)
	if b.Maps != nil {
		p.Maps = grow(b.Maps, numNodes*b.MapChannels*b.MapHeight*b.MapWidth)
	}
	p.EdgeFeatures = grow(b.EdgeFeatures, numEdges*b.EdgeFeatureDim)
	p.Src = make([]int32, numEdges)
	p.Dst = make([]int32, numEdges)
	copy(p.Src, b.Src)
	copy(p.Dst, b.Dst)
	firstPad := int32(b.NumNodes)
	for e := b.NumEdges(); e < numEdges; e++ {
		node := firstPad
		if k := e - b.NumEdges(); k < extraNodes {
			node += int32(k)
		}
		p.Src[e], p.Dst[e] = node, node
	}
	return &p, nil
}

func grow(values []float32, size int) []float32 {
	out := make([]float32, size)
	copy(out, values)
	return out
}

// CheckInDegree verifies that every node of the batch has an incoming edge.
func (b *GraphBatch) CheckInDegree() error { return CheckInDegree(b.Dst, b.NumNodes) }

// ToGomlxTensors packs the model inputs: features (nodes × history·featureDim),
// edge features (edges × edgeFeatureDim), src (edges), dst (edges) and, when
// the batch has map patches, maps (nodes × channels × height × width).
func (b *GraphBatch) ToGomlxTensors() []*tensors.Tensor {
	inputs := []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(b.Features, b.NumNodes, b.HistoryFrames*b.FeatureDim),
		tensors.FromFlatDataAndDimensions(b.EdgeFeatures, b.NumEdges(), b.EdgeFeatureDim),
		tensors.FromFlatDataAndDimensions(b.Src, b.NumEdges()),
		tensors.FromFlatDataAndDimensions(b.Dst, b.NumEdges()),
	}
	if b.Maps != nil {
		inputs = append(inputs, tensors.FromFlatDataAndDimensions(b.Maps, b.NumNodes, b.MapChannels, b.MapHeight, b.MapWidth))
	}
	return inputs
}

// TargetOffsets returns the labels as (x, y) offsets from each node's last
// history position, nodes × future × 2, and the matching mask (nodes × future).
func (b *GraphBatch) TargetOffsets() (offsets []float32, mask []float32) {
	offsets = make([]float32, b.NumNodes*b.FutureFrames*2)
	last := b.HistoryFrames - 1
	for i := range b.NumNodes {
		hb := (i*b.HistoryFrames + last) * b.FeatureDim
		x0, y0 := b.Features[hb], b.Features[hb+1]
		for t := range b.FutureFrames {
			lb := (i*b.FutureFrames + t) * b.FeatureDim
			offsets[(i*b.FutureFrames+t)*2] = b.Labels[lb] - x0
			offsets[(i*b.FutureFrames+t)*2+1] = b.Labels[lb+1] - y0
		}
	}
	return offsets, b.Mask
}

// LastPositions returns each node's (x, y) at the last history frame, nodes × 2.
func (b *GraphBatch) LastPositions() []float32 {
	out := make([]float32, 2*b.NumNodes)
	last := b.HistoryFrames - 1
	for i := range b.NumNodes {
		base := (i*b.HistoryFrames + last) * b.FeatureDim
		out[2*i], out[2*i+1] = b.Features[base], b.Features[base+1]
	}
	return out
}

// GraphOf returns the index of the graph owning node.
func (b *GraphBatch) GraphOf(node int) int {
	lo, hi := 0, len(b.NodeOffsets)-1
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if b.NodeOffsets[mid] <= node {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
