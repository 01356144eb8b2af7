// Package datasets turns preprocessed traffic recordings into per-scene graphs
// for the trajectory predictor.
//
// Layout and intended usage:
//
// RawData
//   - Holds the aligned per-scene arrays (features, adjacency, mean xy and
//     optional map patches) loaded once from a .npz or .gob file.
//
// Builder
//   - Rebuilds the graph of one scene on every call: active node count from
//     the adjacency diagonal, node features and labels, validity mask, edges
//     with self-loops and inverse-distance edge weights.
//
// SceneDataset / SplitView
//   - Drop scenes without any valid future label, cut the rest into train,
//     validation and test (70/20/10, unshuffled) and serve graphs by split
//     position. SplitView.Batch collates several graphs into a GraphBatch
//     whose ToGomlxTensors feeds the predictor.
package datasets

// Dataset is the access pattern shared by the evaluation loop, the baselines
// and the command line tools.
type Dataset interface {
	Len() int
	Example(i int) (*SceneGraph, error)
	Batch(indices []int) (*GraphBatch, error)
}
