package gat

import (
	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
)

// Predictor is the trajectory network: node and edge embeddings, an optional
// visual embedding of each node's map patch, two attention stages, and a
// projection to 2·FutureFrames offsets per node.
type Predictor struct {
	scene     datasets.SceneConfig
	cfg       Config
	extractor VisualFeatureExtractor

	stage1 AttentionLayer
	stage2 AttentionLayer
}

// NewPredictor validates the configurations and builds the layer layout.
// Parameters are created lazily in the context on the first ModelGraph call.
func NewPredictor(scene datasets.SceneConfig, cfg Config) (*Predictor, error) {
	scene = scene.WithDefaults()
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	extractor, err := NewVisualFeatureExtractor(cfg.Backbone)
	if err != nil {
		return nil, err
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 || cfg.FeatDrop < 0 || cfg.FeatDrop >= 1 || cfg.AttnDrop < 0 || cfg.AttnDrop >= 1 {
		return nil, errors.Errorf("dropout rates must be in [0, 1): dropout=%g feat_drop=%g attn_drop=%g", cfg.Dropout, cfg.FeatDrop, cfg.AttnDrop)
	}
	p := &Predictor{scene: scene, cfg: cfg, extractor: extractor}
	head := SingleHead{
		Dim:           cfg.HiddenDim,
		FeatDrop:      cfg.FeatDrop,
		AttnDrop:      cfg.AttnDrop,
		UseEdges:      cfg.AttentionEdgeWeight,
		Relu:          true,
		Residual:      cfg.Residual,
		NegativeSlope: cfg.NegativeSlope,
	}
	if cfg.Heads == 1 {
		p.stage1 = &head
		second := head
		second.FeatDrop, second.AttnDrop = 0, 0
		p.stage2 = &second
		return p, nil
	}
	p.stage1 = NewMultiHead(head, cfg.Heads, Concat)
	second := head
	second.Dim = cfg.HiddenDim * cfg.Heads
	second.FeatDrop, second.AttnDrop = 0, 0
	p.stage2 = NewMultiHead(second, 1, Average)
	return p, nil
}

// Config returns the effective network configuration.
func (p *Predictor) Config() Config { return p.cfg }

// SceneConfig returns the scene layout the network was built for.
func (p *Predictor) SceneConfig() datasets.SceneConfig { return p.scene }

// Extractor returns the visual feature extractor.
func (p *Predictor) Extractor() VisualFeatureExtractor { return p.extractor }

// OutputDim is the width of the network output, 2·FutureFrames.
func (p *Predictor) OutputDim() int { return p.scene.OutputDim() }

// ModelGraph builds the forward pass. inputs are laid out as
// datasets.GraphBatch.ToGomlxTensors produces them: node features
// [nodes, history·featureDim], edge features [edges, edgeFeatureDim], src and
// dst [edges] and, optionally, maps [nodes, channels, height, width]. It
// returns a single node shaped [nodes, 2·FutureFrames].
func (p *Predictor) ModelGraph(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
	if len(inputs) < 4 {
		exceptions.Panicf("predictor needs at least 4 inputs (features, edge features, src, dst), got %d", len(inputs))
	}
	features, edgeFeatures, src, dst := inputs[0], inputs[1], inputs[2], inputs[3]
	if features.Rank() != 2 || features.Shape().Dimensions[1] != p.scene.NodeInputDim() {
		exceptions.Panicf("node features must be shaped [nodes, %d], got %s", p.scene.NodeInputDim(), features.Shape())
	}
	if edgeFeatures.Rank() != 2 || edgeFeatures.Shape().Dimensions[1] != p.scene.EdgeFeatureDim {
		exceptions.Panicf("edge features must be shaped [edges, %d], got %s", p.scene.EdgeFeatureDim, edgeFeatures.Shape())
	}
	numNodes := features.Shape().Dimensions[0]
	g := NewGraph(src, dst, numNodes)
	hidden := p.cfg.HiddenDim

	h := layers.Dense(ctx.In("node_embedding"), features, true, hidden)
	e := layers.Dense(ctx.In("edge_embedding"), edgeFeatures, true, hidden)

	if p.extractor.EmbeddingDim() > 0 {
		var maps *graph.Node
		if len(inputs) > 4 {
			maps = inputs[4]
		} else {
			bb := p.cfg.Backbone
			maps = graph.Zeros(features.Graph(), shapes.Make(features.DType(), numNodes, bb.ImageChannels, bb.ImageSize, bb.ImageSize))
		}
		visual := p.extractor.Embed(ctx.In("backbone"), maps)
		h = graph.Concatenate([]*graph.Node{visual, h}, -1)
		h = layers.Dense(ctx.In("fusion"), h, true, hidden)
	}
	h = activations.Relu(h)

	h = p.stage1.Apply(ctx.In("gat_1"), g, h, e)
	if p.cfg.Heads > 1 {
		e = layers.Dense(ctx.In("edge_embedding_2"), edgeFeatures, true, hidden*p.cfg.Heads)
	}
	h = p.stage2.Apply(ctx.In("gat_2"), g, h, e)

	if p.cfg.Dropout > 0 {
		h = dropout(ctx.In("dropout"), h, p.cfg.Dropout)
	}
	return []*graph.Node{layers.Dense(ctx.In("readout"), h, true, p.OutputDim())}
}
