package datasets

import "math"

// Rotate returns a copy of features (nodes × frames × channels) with the
// (x, y) channels rotated by angle radians about the origin. Other channels
// are copied unchanged.
func Rotate(features []float32, numNodes, frames, channels int, angle float64) []float32 {
	out := append([]float32(nil), features...)
	sin, cos := math.Sincos(angle)
	for i := range numNodes * frames {
		base := i * channels
		x, y := float64(features[base]), float64(features[base+1])
		out[base] = float32(cos*x - sin*y)
		out[base+1] = float32(sin*x + cos*y)
	}
	return out
}

// Rotated returns a copy of g with features and labels rotated by angle.
// Edge weights only depend on distances; the edge slices are shared with g.
func (g *SceneGraph) Rotated(angle float64) *SceneGraph {
	r := *g
	r.Features = Rotate(g.Features, g.NumNodes, g.HistoryFrames, g.FeatureDim, angle)
	r.Labels = Rotate(g.Labels, g.NumNodes, g.FutureFrames, g.FeatureDim, angle)
	return &r
}
