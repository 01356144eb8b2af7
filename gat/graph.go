package gat

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// Graph is the directed edge structure the attention layers run over.
type Graph struct {
	NumNodes int
	NumEdges int

	// src and dst shaped [numEdges, 1], as Gather and Scatter take them.
	src, dst *graph.Node
}

// NewGraph wraps edge endpoint tensors, integer node indices shaped
// [numEdges], into a Graph with numNodes nodes.
func NewGraph(src, dst *graph.Node, numNodes int) *Graph {
	if src.Rank() != 1 || dst.Rank() != 1 || src.Shape().Dimensions[0] != dst.Shape().Dimensions[0] {
		exceptions.Panicf("src and dst must be rank-1 with the same length, got %s and %s", src.Shape(), dst.Shape())
	}
	numEdges := src.Shape().Dimensions[0]
	return &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		src:      graph.Reshape(src, numEdges, 1),
		dst:      graph.Reshape(dst, numEdges, 1),
	}
}

// GatherSource returns x[src[e]] for every edge e. x is shaped [numNodes, ...].
func (g *Graph) GatherSource(x *graph.Node) *graph.Node { return graph.Gather(x, g.src) }

// GatherTarget returns x[dst[e]] for every edge e.
func (g *Graph) GatherTarget(x *graph.Node) *graph.Node { return graph.Gather(x, g.dst) }

// SumToTarget adds per-edge values into their destination nodes. values is
// shaped [numEdges, ...] and the result [numNodes, ...].
func (g *Graph) SumToTarget(values *graph.Node) *graph.Node {
	dims := append([]int{g.NumNodes}, values.Shape().Dimensions[1:]...)
	zeros := graph.Zeros(values.Graph(), shapes.Make(values.DType(), dims...))
	return graph.ScatterSum(zeros, g.dst, values, false, false)
}

// MaxToTarget takes the per-destination maximum of per-edge values. Nodes
// without incoming edges get -inf.
func (g *Graph) MaxToTarget(values *graph.Node) *graph.Node {
	dims := append([]int{g.NumNodes}, values.Shape().Dimensions[1:]...)
	lowest := graph.BroadcastToDims(graph.Infinity(values.Graph(), values.DType(), -1), dims...)
	return graph.ScatterMax(lowest, g.dst, values, false, false)
}

// EdgeSoftmax normalizes logits (shaped [numEdges] or [numEdges, heads])
// over the incoming edges of each destination node: for every node, the
// coefficients of its incoming edges sum to 1. The per-destination maximum
// is subtracted before exponentiation.
func EdgeSoftmax(g *Graph, logits *graph.Node) *graph.Node {
	maxes := graph.StopGradient(g.MaxToTarget(logits))
	shifted := graph.Sub(logits, g.GatherTarget(maxes))
	expLogits := graph.Exp(shifted)
	sums := g.SumToTarget(expLogits)
	return graph.Div(expLogits, g.GatherTarget(sums))
}

// dropout is a no-op outside training.
func dropout(ctx *context.Context, x *graph.Node, rate float64) *graph.Node {
	return layers.Dropout(ctx, x, graph.Scalar(x.Graph(), x.DType(), rate))
}
