package main

import (
	"image/color"
	"math"
	"path/filepath"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var predictorColors = []color.RGBA{
	{R: 20, G: 80, B: 200, A: 230},
	{R: 200, G: 30, B: 30, A: 230},
	{R: 40, G: 150, B: 40, A: 230},
	{R: 200, G: 140, B: 20, A: 230},
}

func writePlots(outDir string, view *datasets.SplitView, batches [][]int, results []predictorResult) error {
	if err := ensureDir(outDir); err != nil {
		return err
	}
	if err := plotStepRMSE(filepath.Join(outDir, "step_rmse.png"), results); err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}
	batch, err := view.Batch(batches[0])
	if err != nil {
		return err
	}
	return plotScene(filepath.Join(outDir, "scene_trajectories.png"), batch, results)
}

// plotStepRMSE draws the RMSE of every predictor per future step.
func plotStepRMSE(path string, results []predictorResult) error {
	p := plot.New()
	p.Title.Text = "RMSE per future step"
	p.X.Label.Text = "future step"
	p.Y.Label.Text = "RMSE"
	p.Add(plotter.NewGrid())
	for i, r := range results {
		xys := make(plotter.XYs, len(r.metrics.StepRMSE))
		for t, v := range r.metrics.StepRMSE {
			xys[t] = plotter.XY{X: float64(t + 1), Y: v}
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return errors.Wrapf(err, "plotting %s", r.name)
		}
		col := predictorColors[i%len(predictorColors)]
		line.Color = col
		line.Width = vg.Points(1.2)
		points.GlyphStyle.Color = col
		p.Add(line, points)
		p.Legend.Add(r.name, line, points)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// plotScene draws history (grey), ground truth (black) and per-predictor
// forecasts of the supervised nodes of the first graph in batch.
func plotScene(path string, batch *datasets.GraphBatch, results []predictorResult) error {
	p := plot.New()
	p.Title.Text = "Scene trajectories: history (grey), ground truth (black), predictions"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	last := batch.LastPositions()
	target, mask := batch.TargetOffsets()
	h, f, fd := batch.HistoryFrames, batch.FutureFrames, batch.FeatureDim
	var all plotter.XYs
	legend := map[string]bool{}
	for node := batch.NodeOffsets[0]; node < batch.NodeOffsets[1]; node++ {
		history := make(plotter.XYs, h)
		for t := range h {
			base := (node*h + t) * fd
			history[t] = plotter.XY{X: float64(batch.Features[base]), Y: float64(batch.Features[base+1])}
		}
		if err := addLine(p, history, color.RGBA{R: 150, G: 150, B: 150, A: 200}, 0.8, "history", legend); err != nil {
			return err
		}
		all = append(all, history...)

		valid := false
		for t := range f {
			valid = valid || mask[node*f+t] != 0
		}
		if !valid {
			continue
		}
		truth := futureLine(last, target, node, f)
		if err := addLine(p, truth, color.RGBA{A: 255}, 1.2, "ground truth", legend); err != nil {
			return err
		}
		all = append(all, truth...)
		for i, r := range results {
			if r.first == nil {
				continue
			}
			forecast := futureLine(last, r.first.Offsets, node, f)
			if err := addLine(p, forecast, predictorColors[i%len(predictorColors)], 1.0, r.name, legend); err != nil {
				return err
			}
			all = append(all, forecast...)
		}
	}
	p.Add(plotter.NewGrid())
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)
	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}

// futureLine starts at the last history position and follows offsets.
func futureLine(last, offsets []float32, node, future int) plotter.XYs {
	x0, y0 := float64(last[2*node]), float64(last[2*node+1])
	xys := make(plotter.XYs, 0, future+1)
	xys = append(xys, plotter.XY{X: x0, Y: y0})
	for t := range future {
		j := (node*future + t) * 2
		xys = append(xys, plotter.XY{X: x0 + float64(offsets[j]), Y: y0 + float64(offsets[j+1])})
	}
	return xys
}

func addLine(p *plot.Plot, xys plotter.XYs, col color.Color, width float64, name string, legend map[string]bool) error {
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = col
	line.Width = vg.Points(width)
	p.Add(line)
	if !legend[name] {
		p.Legend.Add(name, line)
		legend[name] = true
	}
	return nil
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
