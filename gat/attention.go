package gat

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// AttentionLayer is one graph-attention stage. Apply takes node embeddings
// shaped [numNodes, inDim] and, optionally, edge embeddings shaped
// [numEdges, edgeDim], and returns [numNodes, OutputDim()].
type AttentionLayer interface {
	Apply(ctx *context.Context, g *Graph, h, edges *graph.Node) *graph.Node
	OutputDim() int
}

// SingleHead is a graph-attention head:
//
//	z_i   = W·h_i,  s_i = S·h_i
//	e_ij  = leaky(a·[z_i ‖ z_j (‖ w_ij)])   for each edge i → j
//	α_ij  = softmax of e_ij over the incoming edges of j
//	out_j = s_j + Σ_i α_ij·z_i
//
// followed by an optional rectifier and an optional residual h_j + out_j.
// None of the projections has a bias.
type SingleHead struct {
	Dim int

	FeatDrop float64
	AttnDrop float64

	// UseEdges concatenates the edge embedding to the score input. The edge
	// embedding must then be Dim wide.
	UseEdges bool

	Relu          bool
	Residual      bool
	NegativeSlope float64
}

var _ AttentionLayer = (*SingleHead)(nil)

// OutputDim implements AttentionLayer.
func (l *SingleHead) OutputDim() int { return l.Dim }

// Apply implements AttentionLayer.
func (l *SingleHead) Apply(ctx *context.Context, g *Graph, h, edges *graph.Node) *graph.Node {
	out, _ := l.Attention(ctx, g, h, edges)
	return out
}

// Attention is Apply that also returns the attention coefficients, shaped
// [numEdges].
func (l *SingleHead) Attention(ctx *context.Context, g *Graph, h, edges *graph.Node) (out, coefficients *graph.Node) {
	if h.Rank() != 2 || h.Shape().Dimensions[0] != g.NumNodes {
		exceptions.Panicf("node embeddings must be shaped [%d, dim], got %s", g.NumNodes, h.Shape())
	}
	inDim := h.Shape().Dimensions[1]
	if l.Residual && inDim != l.Dim {
		exceptions.Panicf("residual attention head needs input dim %d == output dim %d", inDim, l.Dim)
	}
	input := h
	if l.FeatDrop > 0 {
		h = dropout(ctx.In("feat_dropout"), h, l.FeatDrop)
	}
	self := layers.Dense(ctx.In("self"), h, false, l.Dim)
	z := layers.Dense(ctx.In("message"), h, false, l.Dim)

	zSrc := g.GatherSource(z)
	parts := []*graph.Node{zSrc, g.GatherTarget(z)}
	if l.UseEdges {
		if edges == nil {
			exceptions.Panicf("attention head configured to use edge embeddings, but none given")
		}
		if edges.Rank() != 2 || edges.Shape().Dimensions[0] != g.NumEdges || edges.Shape().Dimensions[1] != l.Dim {
			exceptions.Panicf("edge embeddings must be shaped [%d, %d], got %s", g.NumEdges, l.Dim, edges.Shape())
		}
		parts = append(parts, edges)
	}
	logits := layers.Dense(ctx.In("score"), graph.Concatenate(parts, -1), false, 1)
	logits = activations.LeakyReluWithAlpha(graph.Reshape(logits, g.NumEdges), l.NegativeSlope)

	coefficients = EdgeSoftmax(g, logits)
	weights := coefficients
	if l.AttnDrop > 0 {
		weights = dropout(ctx.In("attn_dropout"), weights, l.AttnDrop)
	}
	messages := graph.Mul(graph.InsertAxes(weights, -1), zSrc)
	out = graph.Add(self, g.SumToTarget(messages))
	if l.Relu {
		out = activations.Relu(out)
	}
	if l.Residual {
		out = graph.Add(input, out)
	}
	return out, coefficients
}

// Merge selects how MultiHead combines its heads.
type Merge int

const (
	// Concat concatenates head outputs along the feature axis.
	Concat Merge = iota
	// Average takes the element-wise mean of the head outputs.
	Average
)

func (m Merge) String() string {
	if m == Average {
		return "average"
	}
	return "concat"
}

// MultiHead runs independent heads over the same inputs and merges them.
// Each head gets its own parameters under the scope "head_<i>".
type MultiHead struct {
	Heads []*SingleHead
	Merge Merge
}

var _ AttentionLayer = (*MultiHead)(nil)

// NewMultiHead returns numHeads copies of head merged with merge.
func NewMultiHead(head SingleHead, numHeads int, merge Merge) *MultiHead {
	m := &MultiHead{Heads: make([]*SingleHead, numHeads), Merge: merge}
	for i := range m.Heads {
		h := head
		m.Heads[i] = &h
	}
	return m
}

// OutputDim implements AttentionLayer.
func (m *MultiHead) OutputDim() int {
	if len(m.Heads) == 0 {
		return 0
	}
	if m.Merge == Average {
		return m.Heads[0].Dim
	}
	total := 0
	for _, h := range m.Heads {
		total += h.Dim
	}
	return total
}

// Apply implements AttentionLayer.
func (m *MultiHead) Apply(ctx *context.Context, g *Graph, h, edges *graph.Node) *graph.Node {
	if len(m.Heads) == 0 {
		exceptions.Panicf("MultiHead has no heads")
	}
	outs := make([]*graph.Node, len(m.Heads))
	for i, head := range m.Heads {
		outs[i] = head.Apply(ctx.In(fmt.Sprintf("head_%d", i)), g, h, edges)
	}
	if len(outs) == 1 {
		return outs[0]
	}
	if m.Merge == Average {
		return graph.ReduceMean(graph.Stack(outs, 0), 0)
	}
	return graph.Concatenate(outs, -1)
}
