// Package eval scores trajectory predictions against masked ground truth and
// persists the results.
package eval

import (
	"math"

	"github.com/Noofbiz/trafficgat/gat"
	"github.com/pkg/errors"
)

// Metrics summarizes displacement errors over valid future steps.
type Metrics struct {
	// ADE is the mean displacement over all valid steps.
	ADE float64 `json:"ade"`
	// FDE is the mean, over nodes with a valid step, of the displacement at
	// each node's last valid step.
	FDE float64 `json:"fde"`
	// RMSE is the root of the mean squared displacement over valid steps.
	RMSE float64 `json:"rmse"`
	// StepRMSE is RMSE per future step. Steps without valid targets are 0.
	StepRMSE []float64 `json:"step_rmse"`

	// Steps and Nodes count the valid steps and the nodes with at least one.
	Steps int `json:"steps"`
	Nodes int `json:"nodes"`
}

// Accumulator aggregates errors over several batches.
type Accumulator struct {
	futureFrames int

	sumDisp, sumSq, sumFinal float64
	steps, nodes             int

	stepSq    []float64
	stepCount []int
}

// NewAccumulator returns an empty Accumulator for futureFrames steps.
func NewAccumulator(futureFrames int) *Accumulator {
	return &Accumulator{
		futureFrames: futureFrames,
		stepSq:       make([]float64, futureFrames),
		stepCount:    make([]int, futureFrames),
	}
}

// Add scores pred against target offsets (nodes × future × 2) where mask
// (nodes × future) is nonzero. Masked-out steps never contribute.
func (a *Accumulator) Add(pred *gat.Prediction, target, mask []float32) error {
	if pred.FutureFrames != a.futureFrames {
		return errors.Errorf("prediction has %d future steps, accumulator has %d", pred.FutureFrames, a.futureFrames)
	}
	n, f := pred.NumNodes, pred.FutureFrames
	if len(pred.Offsets) != n*f*2 || len(target) != n*f*2 || len(mask) != n*f {
		return errors.Errorf("size mismatch: %d predicted values, %d targets, %d mask entries for %d nodes × %d steps",
			len(pred.Offsets), len(target), len(mask), n, f)
	}
	for i := range n {
		final := -1.0
		for t := range f {
			if mask[i*f+t] == 0 {
				continue
			}
			j := (i*f + t) * 2
			dx := float64(pred.Offsets[j] - target[j])
			dy := float64(pred.Offsets[j+1] - target[j+1])
			sq := dx*dx + dy*dy
			d := math.Sqrt(sq)
			a.sumDisp += d
			a.sumSq += sq
			a.steps++
			a.stepSq[t] += sq
			a.stepCount[t]++
			final = d
		}
		if final >= 0 {
			a.sumFinal += final
			a.nodes++
		}
	}
	return nil
}

// Result returns the metrics accumulated so far. With no valid step all
// metrics are zero.
func (a *Accumulator) Result() Metrics {
	m := Metrics{Steps: a.steps, Nodes: a.nodes, StepRMSE: make([]float64, a.futureFrames)}
	for t := range a.futureFrames {
		if a.stepCount[t] > 0 {
			m.StepRMSE[t] = math.Sqrt(a.stepSq[t] / float64(a.stepCount[t]))
		}
	}
	if a.steps == 0 {
		return m
	}
	m.ADE = a.sumDisp / float64(a.steps)
	m.RMSE = math.Sqrt(a.sumSq / float64(a.steps))
	m.FDE = a.sumFinal / float64(a.nodes)
	return m
}

// Masked scores a single prediction.
func Masked(pred *gat.Prediction, target, mask []float32) (Metrics, error) {
	acc := NewAccumulator(pred.FutureFrames)
	if err := acc.Add(pred, target, mask); err != nil {
		return Metrics{}, err
	}
	return acc.Result(), nil
}
