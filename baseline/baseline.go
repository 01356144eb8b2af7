// Package baseline holds non-learned trajectory predictors used as reference
// points for the graph-attention network.
package baseline

import (
	"runtime"
	"sort"
	"sync"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Predictor produces per-node future offsets for a batch. gat.Runner
// implements it as well.
type Predictor interface {
	Predict(batch *datasets.GraphBatch) (*gat.Prediction, error)
}

var (
	_ Predictor = ConstantVelocity{}
	_ Predictor = (*NearestNeighbour)(nil)
	_ Predictor = (*gat.Runner)(nil)
)

// ConstantVelocity extrapolates the displacement between the last two history
// frames: the offset at future step k is (k+1)·(p_last − p_prev). With a single
// history frame it predicts no motion.
type ConstantVelocity struct{}

// Predict implements Predictor.
func (ConstantVelocity) Predict(batch *datasets.GraphBatch) (*gat.Prediction, error) {
	if batch == nil {
		return nil, errors.New("batch is nil")
	}
	pred := gat.NewPrediction(batch.NumNodes, batch.FutureFrames)
	for i := range batch.NumNodes {
		vx, vy := lastVelocity(batch.Features, i, batch.HistoryFrames, batch.FeatureDim)
		for k := range batch.FutureFrames {
			pred.Set(i, k, float32(k+1)*vx, float32(k+1)*vy)
		}
	}
	return pred, nil
}

func lastVelocity(features []float32, node, history, featureDim int) (vx, vy float32) {
	if history < 2 {
		return 0, 0
	}
	last := (node*history + history - 1) * featureDim
	prev := last - featureDim
	return features[last] - features[prev], features[last+1] - features[prev+1]
}

// motion is one indexed node: its history relative to its last position and
// its future offsets.
type motion struct {
	descriptor []float64
	offsets    []float32
	mask       []float32
}

// neighbor is an index entry and its distance to a query.
type neighbor struct {
	idx      int
	distance float64
}

// NearestNeighbour predicts the mean future offsets of the K indexed nodes
// whose history displacements are closest to the query node's.
type NearestNeighbour struct {
	K int

	history, future int
	index           []motion
}

// NewNearestNeighbour creates an empty predictor. k must be >= 1.
func NewNearestNeighbour(k int) (*NearestNeighbour, error) {
	if k < 1 {
		return nil, errors.Errorf("k must be >= 1, got %d", k)
	}
	return &NearestNeighbour{K: k}, nil
}

// Len returns the number of indexed nodes.
func (nn *NearestNeighbour) Len() int { return len(nn.index) }

// Index adds every node of ds with at least one valid future step.
func (nn *NearestNeighbour) Index(ds datasets.Dataset) error {
	for i := range ds.Len() {
		g, err := ds.Example(i)
		if err != nil {
			return errors.WithMessagef(err, "indexing example %d", i)
		}
		if len(nn.index) == 0 {
			nn.history, nn.future = g.HistoryFrames, g.FutureFrames
		} else if g.HistoryFrames != nn.history || g.FutureFrames != nn.future {
			return errors.Errorf("example %d has %d+%d frames, index has %d+%d", i, g.HistoryFrames, g.FutureFrames, nn.history, nn.future)
		}
		for node := range g.NumNodes {
			mask := g.Mask[node*g.FutureFrames : (node+1)*g.FutureFrames]
			if floats.Sum(toFloat64(mask)) == 0 {
				continue
			}
			m := motion{
				descriptor: descriptor(g.Features, node, g.HistoryFrames, g.FeatureDim),
				offsets:    make([]float32, 2*g.FutureFrames),
				mask:       append([]float32(nil), mask...),
			}
			x0, y0 := g.Position(node, g.HistoryFrames-1)
			for t := range g.FutureFrames {
				lb := (node*g.FutureFrames + t) * g.FeatureDim
				m.offsets[2*t] = g.Labels[lb] - x0
				m.offsets[2*t+1] = g.Labels[lb+1] - y0
			}
			nn.index = append(nn.index, m)
		}
	}
	klog.V(1).Infof("nearest-neighbour index holds %d nodes", len(nn.index))
	return nil
}

// descriptor lists the (x, y) displacement of every history frame from the
// last one.
func descriptor(features []float32, node, history, featureDim int) []float64 {
	out := make([]float64, 2*history)
	last := (node*history + history - 1) * featureDim
	for t := range history {
		base := (node*history + t) * featureDim
		out[2*t] = float64(features[base] - features[last])
		out[2*t+1] = float64(features[base+1] - features[last+1])
	}
	return out
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// Predict implements Predictor. Future steps for which none of the
// neighbours is valid fall back to a constant-velocity extrapolation.
func (nn *NearestNeighbour) Predict(batch *datasets.GraphBatch) (*gat.Prediction, error) {
	if len(nn.index) == 0 {
		return nil, errors.New("nearest-neighbour index is empty")
	}
	if batch.HistoryFrames != nn.history || batch.FutureFrames != nn.future {
		return nil, errors.Errorf("batch has %d+%d frames, index has %d+%d", batch.HistoryFrames, batch.FutureFrames, nn.history, nn.future)
	}
	pred := gat.NewPrediction(batch.NumNodes, batch.FutureFrames)

	jobs := make(chan int, batch.NumNodes)
	workerCount := min(runtime.NumCPU(), batch.NumNodes)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for range workerCount {
		go func() {
			defer wg.Done()
			for node := range jobs {
				nn.predictNode(batch, node, pred)
			}
		}()
	}
	for node := range batch.NumNodes {
		jobs <- node
	}
	close(jobs)
	wg.Wait()
	return pred, nil
}

// predictNode writes only node's slots of pred.
func (nn *NearestNeighbour) predictNode(batch *datasets.GraphBatch, node int, pred *gat.Prediction) {
	query := descriptor(batch.Features, node, batch.HistoryFrames, batch.FeatureDim)
	neighbors := nn.nearest(query)
	vx, vy := lastVelocity(batch.Features, node, batch.HistoryFrames, batch.FeatureDim)
	for t := range batch.FutureFrames {
		var sumX, sumY, count float64
		for _, nb := range neighbors {
			m := &nn.index[nb.idx]
			if m.mask[t] == 0 {
				continue
			}
			sumX += float64(m.offsets[2*t])
			sumY += float64(m.offsets[2*t+1])
			count++
		}
		if count == 0 {
			pred.Set(node, t, float32(t+1)*vx, float32(t+1)*vy)
			continue
		}
		pred.Set(node, t, float32(sumX/count), float32(sumY/count))
	}
}

// nearest returns up to K index entries sorted by increasing distance.
func (nn *NearestNeighbour) nearest(query []float64) []neighbor {
	candidates := make([]neighbor, len(nn.index))
	for i := range nn.index {
		candidates[i] = neighbor{idx: i, distance: floats.Distance(query, nn.index[i].descriptor, 2)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[i].idx < candidates[j].idx
		}
		return candidates[i].distance < candidates[j].distance
	})
	return candidates[:min(nn.K, len(candidates))]
}
