package gat

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ONNXBackbone runs an exported vision network (resnet18, mobilenet_v2, ...)
// with onnx-gomlx. The model must take float32 images shaped
// [batch, channels, height, width].
type ONNXBackbone struct {
	model      *onnx.Model
	inputName  string
	outputName string
	dim        int
	freeze     bool
}

// variableLoader is implemented by extractors whose parameters come from
// outside the context (a pretrained file) and must be loaded before the
// first graph is built.
type variableLoader interface {
	LoadVariables(ctx *context.Context) error
}

var _ variableLoader = (*ONNXBackbone)(nil)

func newONNXBackbone(cfg BackboneConfig) (VisualFeatureExtractor, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx backbone needs a model path")
	}
	model, err := onnx.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading onnx backbone %q", cfg.ModelPath)
	}
	inputs, _ := model.Inputs()
	outputs, _ := model.Outputs()
	b := &ONNXBackbone{model: model, inputName: cfg.InputName, outputName: cfg.OutputName, dim: cfg.EmbeddingDim, freeze: cfg.Freeze}
	if b.inputName == "" && len(inputs) > 0 {
		b.inputName = inputs[0]
	}
	if b.outputName == "" && len(outputs) > 0 {
		b.outputName = outputs[0]
	}
	if !slices.Contains(inputs, b.inputName) {
		return nil, errors.Errorf("onnx backbone %q has no input %q, inputs are %v", cfg.ModelPath, b.inputName, inputs)
	}
	if !slices.Contains(outputs, b.outputName) {
		return nil, errors.Errorf("onnx backbone %q has no output %q, outputs are %v", cfg.ModelPath, b.outputName, outputs)
	}
	klog.V(1).Infof("onnx backbone %q: input %q, output %q, embedding dim %d", cfg.ModelPath, b.inputName, b.outputName, b.dim)
	return b, nil
}

// Name implements VisualFeatureExtractor.
func (b *ONNXBackbone) Name() string { return string(BackboneONNX) }

// EmbeddingDim implements VisualFeatureExtractor.
func (b *ONNXBackbone) EmbeddingDim() int { return b.dim }

// LoadVariables copies the pretrained weights into ctx. It must be called
// with the same scope later given to Embed.
func (b *ONNXBackbone) LoadVariables(ctx *context.Context) error {
	if err := b.model.VariablesToContext(ctx); err != nil {
		return errors.WithMessage(err, "loading onnx backbone weights")
	}
	if b.freeze {
		freezeScope(ctx)
	}
	return nil
}

// Embed implements VisualFeatureExtractor.
func (b *ONNXBackbone) Embed(ctx *context.Context, x *graph.Node) *graph.Node {
	numNodes := x.Shape().Dimensions[0]
	out := b.model.CallGraph(ctx, x.Graph(), map[string]*graph.Node{b.inputName: x}, b.outputName)[0]
	out = graph.Reshape(out, numNodes, -1)
	if got := out.Shape().Dimensions[1]; got != b.dim {
		exceptions.Panicf("onnx backbone output %q has %d features, configured embedding dim is %d", b.outputName, got, b.dim)
	}
	if b.freeze {
		out = graph.StopGradient(out)
	}
	return out
}
