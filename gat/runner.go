package gat

import (
	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Prediction holds per-node future (x, y) offsets from each node's last
// history position.
type Prediction struct {
	NumNodes     int
	FutureFrames int

	// Offsets is nodes × future × 2.
	Offsets []float32
}

// NewPrediction allocates a zeroed Prediction.
func NewPrediction(numNodes, futureFrames int) *Prediction {
	return &Prediction{NumNodes: numNodes, FutureFrames: futureFrames, Offsets: make([]float32, numNodes*futureFrames*2)}
}

// At returns the offset of node at future step t.
func (p *Prediction) At(node, t int) (dx, dy float32) {
	i := (node*p.FutureFrames + t) * 2
	return p.Offsets[i], p.Offsets[i+1]
}

// Set stores the offset of node at future step t.
func (p *Prediction) Set(node, t int, dx, dy float32) {
	i := (node*p.FutureFrames + t) * 2
	p.Offsets[i], p.Offsets[i+1] = dx, dy
}

// Positions converts the offsets to absolute positions given each node's last
// history position (nodes × 2, as datasets.GraphBatch.LastPositions returns).
func (p *Prediction) Positions(last []float32) []float32 {
	out := make([]float32, len(p.Offsets))
	for i := range p.NumNodes {
		for t := range p.FutureFrames {
			j := (i*p.FutureFrames + t) * 2
			out[j] = last[2*i] + p.Offsets[j]
			out[j+1] = last[2*i+1] + p.Offsets[j+1]
		}
	}
	return out
}

const (
	minPaddedNodes = 32
	minPaddedEdges = 128

	// maxCompiledShapes bounds the cache of compiled graphs, one per padded
	// (nodes, edges) pair.
	maxCompiledShapes = 256
)

// Runner executes a Predictor on batches. Batches are padded to
// power-of-two node and edge counts before execution, see PaddedShape.
type Runner struct {
	backend   backends.Backend
	ctx       *context.Context
	predictor *Predictor
	exec      *context.Exec
}

// NewRunner creates a Runner on the simplego backend. Parameters are randomly
// initialized on the first Predict unless LoadCheckpoint is called first.
func NewRunner(p *Predictor) (*Runner, error) {
	backend, err := simplego.New("")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create simplego backend")
	}
	r := &Runner{backend: backend, ctx: context.New(), predictor: p}
	modelCtx := r.ctx.In("model")
	if loader, ok := p.Extractor().(variableLoader); ok {
		if err := loader.LoadVariables(modelCtx.In("backbone")); err != nil {
			return nil, err
		}
	}
	r.exec, err = context.NewExec(backend, modelCtx, func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
		return p.ModelGraph(ctx, inputs)[0]
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create predictor executor")
	}
	r.exec.SetMaxCache(maxCompiledShapes)
	return r, nil
}

// Context returns the context holding the network parameters.
func (r *Runner) Context() *context.Context { return r.ctx }

// Predictor returns the network the runner executes.
func (r *Runner) Predictor() *Predictor { return r.predictor }

// LoadCheckpoint restores trained parameters from dir.
func (r *Runner) LoadCheckpoint(dir string) error {
	_, err := checkpoints.Load(r.ctx).Dir(dir).Done()
	if err != nil {
		return errors.WithMessagef(err, "failed while loading predictor checkpoint from %q", dir)
	}
	klog.V(1).Infof("loaded predictor checkpoint from %q", dir)
	return nil
}

// Predict runs the network on batch. It returns datasets.ErrDegenerateGraph if
// some node has no incoming edge.
func (r *Runner) Predict(batch *datasets.GraphBatch) (*Prediction, error) {
	scene := r.predictor.SceneConfig()
	if batch.HistoryFrames != scene.HistoryFrames || batch.FutureFrames != scene.FutureFrames ||
		batch.FeatureDim != scene.FeatureDim() || batch.EdgeFeatureDim != scene.EdgeFeatureDim {
		return nil, errors.Errorf("batch layout (history=%d, future=%d, features=%d, edge features=%d) does not match the predictor (%d, %d, %d, %d)",
			batch.HistoryFrames, batch.FutureFrames, batch.FeatureDim, batch.EdgeFeatureDim,
			scene.HistoryFrames, scene.FutureFrames, scene.FeatureDim(), scene.EdgeFeatureDim)
	}
	if err := batch.CheckInDegree(); err != nil {
		return nil, err
	}
	padded, err := batch.Pad(PaddedShape(batch.NumNodes, batch.NumEdges()))
	if err != nil {
		return nil, err
	}
	inputs := padded.ToGomlxTensors()
	args := make([]any, len(inputs))
	for i, t := range inputs {
		args[i] = t
	}
	var output *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		var execErr error
		output, execErr = r.exec.Exec1(args...)
		if execErr != nil {
			panic(execErr)
		}
	})
	for _, t := range inputs {
		t.MustFinalizeAll()
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "predicting batch of %d graphs", batch.NumGraphs())
	}
	defer output.MustFinalizeAll()
	if dims := output.Shape().Dimensions; len(dims) != 2 || dims[0] != padded.NumNodes || dims[1] != 2*batch.FutureFrames {
		return nil, errors.Errorf("predictor returned shape %v, expected [%d, %d]", dims, padded.NumNodes, 2*batch.FutureFrames)
	}
	offsets := tensors.MustCopyFlatData[float32](output)
	return &Prediction{
		NumNodes:     batch.NumNodes,
		FutureFrames: batch.FutureFrames,
		Offsets:      offsets[:batch.NumNodes*2*batch.FutureFrames],
	}, nil
}

// PaddedShape returns the (nodes, edges) a batch is padded to before
// execution. Sizes are rounded up to powers of two so the number of compiled
// graphs grows with the logarithm of the largest batch.
func PaddedShape(numNodes, numEdges int) (int, int) {
	nodes := datasets.PadBucket(numNodes+1, minPaddedNodes)
	edges := datasets.PadBucket(numEdges+nodes-numNodes, minPaddedEdges)
	return nodes, edges
}
