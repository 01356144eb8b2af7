package datasets

import (
	"archive/zip"
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the arrays inside a raw .npz container.
const (
	FeatureKey   = "feature"
	AdjacencyKey = "adjacency"
	MeanXYKey    = "mean_xy"
	MapsKey      = "maps"
)

// rawGobVersion is incremented when the gob container layout changes.
const rawGobVersion = 1

// RawData holds the per-scene arrays produced by the upstream preprocessing:
// features, adjacency matrices, scene reference offsets and optional map
// patches. All arrays are flat and row-major. RawData is immutable once
// loaded; the builder never writes into it.
type RawData struct {
	NumScenes   int
	NumNodes    int
	NumFrames   int
	NumChannels int

	// Feature is scene × node × frame × channel.
	Feature []float32

	// Adjacency is scene × node × node.
	Adjacency []float32

	// MeanXY is scene × 2.
	MeanXY []float32

	// Maps is scene × node × MapChannels × MapHeight × MapWidth, or nil.
	Maps        []float32
	MapChannels int
	MapHeight   int
	MapWidth    int
}

// NewRawData validates shapes and builds a RawData. featureDims are in the given
// layout, adjacencyDims must be (scenes, nodes, nodes) and meanXYDims
// (scenes, 2). The feature array is transposed to scene × node × frame ×
// channel when needed.
func NewRawData(feature []float32, featureDims []int, layout Layout,
	adjacency []float32, adjacencyDims []int,
	meanXY []float32, meanXYDims []int) (*RawData, error) {
	if len(featureDims) != 4 {
		return nil, dataFormatErrorf("feature must be rank 4, got dims %v", featureDims)
	}
	if product(featureDims) != len(feature) {
		return nil, dataFormatErrorf("feature dims %v don't match %d values", featureDims, len(feature))
	}
	var n, v, t, c int
	switch layout {
	case LayoutNCTV:
		n, c, t, v = featureDims[0], featureDims[1], featureDims[2], featureDims[3]
		feature = transposeNCTVToNVTC(feature, n, c, t, v)
	case LayoutNVTC:
		n, v, t, c = featureDims[0], featureDims[1], featureDims[2], featureDims[3]
	default:
		return nil, dataFormatErrorf("unknown feature layout %d", layout)
	}
	if len(adjacencyDims) != 3 || adjacencyDims[1] != adjacencyDims[2] {
		return nil, dataFormatErrorf("adjacency must be scenes × nodes × nodes (square), got dims %v", adjacencyDims)
	}
	if product(adjacencyDims) != len(adjacency) {
		return nil, dataFormatErrorf("adjacency dims %v don't match %d values", adjacencyDims, len(adjacency))
	}
	if adjacencyDims[0] != n || adjacencyDims[1] != v {
		return nil, dataFormatErrorf("adjacency dims %v don't match %d scenes of %d nodes", adjacencyDims, n, v)
	}
	if meanXY == nil {
		meanXY = make([]float32, 2*n)
		meanXYDims = []int{n, 2}
	}
	if len(meanXYDims) != 2 || meanXYDims[0] != n || meanXYDims[1] != 2 || len(meanXY) != 2*n {
		return nil, dataFormatErrorf("mean_xy must be %d × 2, got dims %v", n, meanXYDims)
	}
	return &RawData{
		NumScenes:   n,
		NumNodes:    v,
		NumFrames:   t,
		NumChannels: c,
		Feature:     feature,
		Adjacency:   adjacency,
		MeanXY:      meanXY,
	}, nil
}

// SetMaps attaches per-node map patches, given as scene × node × channels ×
// height × width.
func (r *RawData) SetMaps(maps []float32, dims []int) error {
	if len(dims) != 5 || dims[0] != r.NumScenes || dims[1] != r.NumNodes {
		return dataFormatErrorf("maps must be %d × %d × C × H × W, got dims %v", r.NumScenes, r.NumNodes, dims)
	}
	if product(dims) != len(maps) {
		return dataFormatErrorf("maps dims %v don't match %d values", dims, len(maps))
	}
	r.Maps = maps
	r.MapChannels, r.MapHeight, r.MapWidth = dims[2], dims[3], dims[4]
	return nil
}

// HasMaps reports whether map patches are attached.
func (r *RawData) HasMaps() bool { return r.Maps != nil }

// MapSize is the number of values of one node's map patch.
func (r *RawData) MapSize() int { return r.MapChannels * r.MapHeight * r.MapWidth }

// Validate checks that the arrays are consistent with cfg: channel count and
// enough frames for the history and future windows.
func (r *RawData) Validate(cfg SceneConfig) error {
	if r.NumChannels != cfg.NumChannels {
		return dataFormatErrorf("raw data has %d channels, configuration expects %d", r.NumChannels, cfg.NumChannels)
	}
	if r.NumFrames < cfg.TotalFrames() {
		return dataFormatErrorf("raw data has %d frames, need %d history + %d future",
			r.NumFrames, cfg.HistoryFrames, cfg.FutureFrames)
	}
	if r.NumNodes < 1 {
		return dataFormatErrorf("raw data has no node slots")
	}
	if len(r.Feature) != r.NumScenes*r.NumNodes*r.NumFrames*r.NumChannels {
		return dataFormatErrorf("feature holds %d values, expected %d", len(r.Feature),
			r.NumScenes*r.NumNodes*r.NumFrames*r.NumChannels)
	}
	if len(r.Adjacency) != r.NumScenes*r.NumNodes*r.NumNodes {
		return dataFormatErrorf("adjacency holds %d values, expected %d", len(r.Adjacency), r.NumScenes*r.NumNodes*r.NumNodes)
	}
	if len(r.MeanXY) != 2*r.NumScenes {
		return dataFormatErrorf("mean_xy holds %d values, expected %d", len(r.MeanXY), 2*r.NumScenes)
	}
	return nil
}

// Truncate returns a copy restricted to the first maxNodes node slots and the
// first frames frames. Arrays that already fit are shared, not copied.
func (r *RawData) Truncate(maxNodes, frames int) *RawData {
	v := min(r.NumNodes, maxNodes)
	t := min(r.NumFrames, frames)
	if v == r.NumNodes && t == r.NumFrames {
		return r
	}
	out := &RawData{
		NumScenes:   r.NumScenes,
		NumNodes:    v,
		NumFrames:   t,
		NumChannels: r.NumChannels,
		Feature:     make([]float32, r.NumScenes*v*t*r.NumChannels),
		Adjacency:   make([]float32, r.NumScenes*v*v),
		MeanXY:      r.MeanXY,
		MapChannels: r.MapChannels,
		MapHeight:   r.MapHeight,
		MapWidth:    r.MapWidth,
	}
	c := r.NumChannels
	for s := range r.NumScenes {
		for i := range v {
			src := ((s*r.NumNodes+i)*r.NumFrames)*c
			dst := ((s*v+i)*t)*c
			copy(out.Feature[dst:dst+t*c], r.Feature[src:src+t*c])
			copy(out.Adjacency[(s*v+i)*v:(s*v+i+1)*v], r.Adjacency[(s*r.NumNodes+i)*r.NumNodes:])
		}
	}
	if r.Maps != nil {
		size := r.MapSize()
		out.Maps = make([]float32, r.NumScenes*v*size)
		for s := range r.NumScenes {
			copy(out.Maps[s*v*size:(s+1)*v*size], r.Maps[s*r.NumNodes*size:])
		}
	}
	return out
}

func (r *RawData) at(scene, node, frame, channel int) float32 {
	return r.Feature[((scene*r.NumNodes+node)*r.NumFrames+frame)*r.NumChannels+channel]
}

func (r *RawData) adjacency(scene, i, j int) float32 {
	return r.Adjacency[(scene*r.NumNodes+i)*r.NumNodes+j]
}

// LoadNpz reads a raw container written by NumPy's savez. The feature array is
// interpreted in cfg.Layout; node slots and frames beyond cfg are dropped.
func LoadNpz(path string, cfg SceneConfig) (*RawData, error) {
	cfg = cfg.WithDefaults()
	arrays, err := numpy.FromNpzFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load raw data from %s", path)
	}
	get := func(key string, required bool) ([]float32, []int, error) {
		t, ok := arrays[key]
		if !ok {
			if required {
				return nil, nil, dataFormatErrorf("%s: missing array %q", path, key)
			}
			return nil, nil, nil
		}
		flat, err := flatFloat32(t)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "%s: array %q", path, key)
		}
		return flat, t.Shape().Dimensions, nil
	}
	feature, featureDims, err := get(FeatureKey, true)
	if err != nil {
		return nil, err
	}
	adjacency, adjacencyDims, err := get(AdjacencyKey, true)
	if err != nil {
		return nil, err
	}
	meanXY, meanXYDims, err := get(MeanXYKey, false)
	if err != nil {
		return nil, err
	}
	raw, err := NewRawData(feature, featureDims, cfg.Layout, adjacency, adjacencyDims, meanXY, meanXYDims)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", path)
	}
	maps, mapsDims, err := get(MapsKey, false)
	if err != nil {
		return nil, err
	}
	if maps != nil {
		if err := raw.SetMaps(maps, mapsDims); err != nil {
			return nil, errors.WithMessagef(err, "%s", path)
		}
	}
	raw = raw.Truncate(cfg.MaxNumObjects, cfg.TotalFrames())
	if err := raw.Validate(cfg); err != nil {
		return nil, errors.WithMessagef(err, "%s", path)
	}
	klog.V(1).Infof("loaded %s: %d scenes, %d node slots, %d frames, %d channels, maps=%v",
		path, raw.NumScenes, raw.NumNodes, raw.NumFrames, raw.NumChannels, raw.HasMaps())
	return raw, nil
}

// WriteNpz writes r as a .npz archive readable by LoadNpz with LayoutNVTC and
// by numpy.load.
func WriteNpz(path string, r *RawData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	zw := zip.NewWriter(f)
	arrays := []struct {
		name string
		t    *tensors.Tensor
	}{
		{FeatureKey, tensors.FromFlatDataAndDimensions(r.Feature, r.NumScenes, r.NumNodes, r.NumFrames, r.NumChannels)},
		{AdjacencyKey, tensors.FromFlatDataAndDimensions(r.Adjacency, r.NumScenes, r.NumNodes, r.NumNodes)},
		{MeanXYKey, tensors.FromFlatDataAndDimensions(r.MeanXY, r.NumScenes, 2)},
	}
	if r.HasMaps() {
		arrays = append(arrays, struct {
			name string
			t    *tensors.Tensor
		}{MapsKey, tensors.FromFlatDataAndDimensions(r.Maps, r.NumScenes, r.NumNodes, r.MapChannels, r.MapHeight, r.MapWidth)})
	}
	for _, a := range arrays {
		w, err := zw.Create(a.name + ".npy")
		if err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to add %s to %s", a.name, path)
		}
		if err := numpy.ToNpyWriter(a.t, w); err != nil {
			_ = f.Close()
			return errors.WithMessagef(err, "failed to write %s to %s", a.name, path)
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to finish %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// rawGob is the on-disk form of RawData.
type rawGob struct {
	Version int
	Data    RawData
}

// SaveGob writes r to path in the gob cache format.
func SaveGob(path string, r *RawData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := gob.NewEncoder(f).Encode(rawGob{Version: rawGobVersion, Data: *r}); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// LoadGob reads a gob cache written by SaveGob and validates it against cfg.
func LoadGob(path string, cfg SceneConfig) (*RawData, error) {
	cfg = cfg.WithDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	var g rawGob
	if err := gob.NewDecoder(f).Decode(&g); err != nil {
		return nil, errors.Wrapf(ErrDataFormat, "%s: %v", path, err)
	}
	if g.Version != rawGobVersion {
		return nil, dataFormatErrorf("%s: gob version %d, expected %d", path, g.Version, rawGobVersion)
	}
	raw := g.Data.Truncate(cfg.MaxNumObjects, cfg.TotalFrames())
	if err := raw.Validate(cfg); err != nil {
		return nil, errors.WithMessagef(err, "%s", path)
	}
	return raw, nil
}

// Load dispatches on the file extension: .npz or .gob.
func Load(path string, cfg SceneConfig) (*RawData, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npz":
		return LoadNpz(path, cfg)
	case ".gob":
		return LoadGob(path, cfg)
	}
	return nil, errors.Errorf("unsupported raw data file %q (want .npz or .gob)", path)
}

// flatFloat32 copies a host tensor of any numeric or boolean dtype to float32.
func flatFloat32(t *tensors.Tensor) ([]float32, error) {
	out := make([]float32, t.Size())
	var convErr error
	err := t.ConstFlatData(func(flat any) {
		switch data := flat.(type) {
		case []float32:
			copy(out, data)
		case []float64:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []int64:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []int32:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []int16:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []int8:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []uint8:
			for i, v := range data {
				out[i] = float32(v)
			}
		case []bool:
			for i, v := range data {
				if v {
					out[i] = 1
				}
			}
		default:
			convErr = dataFormatErrorf("unsupported dtype %s", t.DType())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, convErr
}

func transposeNCTVToNVTC(src []float32, n, c, t, v int) []float32 {
	dst := make([]float32, len(src))
	for s := range n {
		for ch := range c {
			for f := range t {
				for node := range v {
					dst[((s*v+node)*t+f)*c+ch] = src[((s*c+ch)*t+f)*v+node]
				}
			}
		}
	}
	return dst
}

func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}
