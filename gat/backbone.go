package gat

import (
	"sort"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
)

// Backbone names a visual feature extractor.
type Backbone string

const (
	// BackboneNone ignores map patches and contributes no embedding.
	BackboneNone Backbone = "none"
	// BackboneMapEncoder is a small convolutional encoder trained with the network.
	BackboneMapEncoder Backbone = "map_encoder"
	// BackboneONNX runs an exported pretrained vision network.
	BackboneONNX Backbone = "onnx"
)

// BackboneConfig configures the visual feature extractor.
type BackboneConfig struct {
	Kind Backbone `json:"kind"`

	// ImageChannels and ImageSize describe the map patch fed to the extractor,
	// shaped [nodes, ImageChannels, ImageSize, ImageSize]. Defaults: 3 and 112.
	ImageChannels int `json:"image_channels"`
	ImageSize     int `json:"image_size"`

	// EmbeddingDim is the extractor output width. Defaults to the hidden
	// dimension for map_encoder and to 512 for onnx.
	EmbeddingDim int `json:"embedding_dim"`

	// ModelPath is the .onnx file of the onnx backbone. InputName and
	// OutputName select its image input and embedding output; empty means the
	// first one.
	ModelPath  string `json:"model_path"`
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`

	// Freeze keeps the extractor parameters fixed during training.
	Freeze bool `json:"freeze"`
}

func (c BackboneConfig) withDefaults(hiddenDim int) BackboneConfig {
	if c.ImageChannels <= 0 {
		c.ImageChannels = 3
	}
	if c.ImageSize <= 0 {
		c.ImageSize = 112
	}
	if c.EmbeddingDim <= 0 {
		switch c.Kind {
		case BackboneMapEncoder:
			c.EmbeddingDim = hiddenDim
		case BackboneONNX:
			c.EmbeddingDim = 512
		}
	}
	return c
}

// VisualFeatureExtractor turns per-node map patches, shaped
// [nodes, channels, height, width], into embeddings shaped
// [nodes, EmbeddingDim()].
type VisualFeatureExtractor interface {
	Name() string
	EmbeddingDim() int
	Embed(ctx *context.Context, images *graph.Node) *graph.Node
}

// BackboneFactory creates an extractor from its configuration.
type BackboneFactory func(cfg BackboneConfig) (VisualFeatureExtractor, error)

var (
	backbonesMu sync.RWMutex
	backbones   = map[Backbone]BackboneFactory{}
)

// RegisterBackbone makes a backbone available to NewVisualFeatureExtractor.
// Registering an existing kind replaces it.
func RegisterBackbone(kind Backbone, factory BackboneFactory) {
	backbonesMu.Lock()
	defer backbonesMu.Unlock()
	backbones[kind] = factory
}

// Backbones lists the registered backbone kinds, sorted.
func Backbones() []Backbone {
	backbonesMu.RLock()
	defer backbonesMu.RUnlock()
	kinds := make([]Backbone, 0, len(backbones))
	for k := range backbones {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewVisualFeatureExtractor creates the extractor registered for cfg.Kind.
func NewVisualFeatureExtractor(cfg BackboneConfig) (VisualFeatureExtractor, error) {
	if cfg.Kind == "" {
		cfg.Kind = BackboneNone
	}
	backbonesMu.RLock()
	factory, found := backbones[cfg.Kind]
	backbonesMu.RUnlock()
	if !found {
		return nil, errors.Errorf("unknown backbone %q, registered backbones are %v", cfg.Kind, Backbones())
	}
	return factory(cfg)
}

func init() {
	RegisterBackbone(BackboneNone, func(BackboneConfig) (VisualFeatureExtractor, error) {
		return noBackbone{}, nil
	})
	RegisterBackbone(BackboneMapEncoder, func(cfg BackboneConfig) (VisualFeatureExtractor, error) {
		if cfg.EmbeddingDim <= 0 {
			return nil, errors.New("map_encoder backbone needs a positive embedding dimension")
		}
		return &MapEncoder{Dim: cfg.EmbeddingDim, Freeze: cfg.Freeze}, nil
	})
	RegisterBackbone(BackboneONNX, newONNXBackbone)
}

type noBackbone struct{}

func (noBackbone) Name() string      { return string(BackboneNone) }
func (noBackbone) EmbeddingDim() int { return 0 }
func (noBackbone) Embed(*context.Context, *graph.Node) *graph.Node {
	return nil
}

// MapEncoder is a four-layer convolutional encoder over channels-first map
// patches followed by a projection to Dim.
type MapEncoder struct {
	Dim    int
	Freeze bool
}

var mapEncoderLayers = []struct{ channels, kernel, stride int }{
	{10, 5, 2},
	{20, 5, 2},
	{10, 5, 1},
	{1, 3, 1},
}

// Name implements VisualFeatureExtractor.
func (m *MapEncoder) Name() string { return string(BackboneMapEncoder) }

// EmbeddingDim implements VisualFeatureExtractor.
func (m *MapEncoder) EmbeddingDim() int { return m.Dim }

// Embed implements VisualFeatureExtractor.
func (m *MapEncoder) Embed(ctx *context.Context, x *graph.Node) *graph.Node {
	numNodes := x.Shape().Dimensions[0]
	for i, l := range mapEncoderLayers {
		x = layers.Convolution(ctx.Inf("conv_%d", i), x).
			ChannelsAxis(images.ChannelsFirst).
			Channels(l.channels).
			KernelSize(l.kernel).
			Strides(l.stride).
			PadSame().
			Done()
		x = activations.Relu(x)
	}
	x = graph.Reshape(x, numNodes, -1)
	x = layers.Dense(ctx.In("projection"), x, true, m.Dim)
	if m.Freeze {
		freezeScope(ctx)
		x = graph.StopGradient(x)
	}
	return x
}

// freezeScope marks every variable under ctx's scope as not trainable.
func freezeScope(ctx *context.Context) {
	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		v.SetTrainable(false)
	})
}
