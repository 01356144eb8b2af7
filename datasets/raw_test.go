package datasets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRawDataTransposesNCTV(t *testing.T) {
	// 1 scene, 2 channels, 3 frames, 2 nodes: value = 100*c + 10*t + v.
	n, c, frames, v := 1, 2, 3, 2
	src := make([]float32, n*c*frames*v)
	for ch := range c {
		for f := range frames {
			for node := range v {
				src[(ch*frames+f)*v+node] = float32(100*ch + 10*f + node)
			}
		}
	}
	raw, err := NewRawData(src, []int{n, c, frames, v}, LayoutNCTV, make([]float32, v*v), []int{1, v, v}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, v, raw.NumNodes)
	require.Equal(t, c, raw.NumChannels)
	for ch := range c {
		for f := range frames {
			for node := range v {
				require.Equal(t, float32(100*ch+10*f+node), raw.at(0, node, f, ch))
			}
		}
	}
}

func TestNewRawDataRejectsBadShapes(t *testing.T) {
	feature := make([]float32, 2*3*8*7)
	tests := []struct {
		name    string
		adj     []float32
		adjDims []int
		mean    []float32
		meanDim []int
	}{
		{"non-square", make([]float32, 2*3*4), []int{2, 3, 4}, nil, nil},
		{"rank", make([]float32, 9), []int{3, 3}, nil, nil},
		{"scene count", make([]float32, 3*3*3), []int{3, 3, 3}, nil, nil},
		{"size mismatch", make([]float32, 5), []int{2, 3, 3}, nil, nil},
		{"mean_xy", make([]float32, 2*3*3), []int{2, 3, 3}, make([]float32, 6), []int{2, 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRawData(feature, []int{2, 3, 8, 7}, LayoutNVTC, tc.adj, tc.adjDims, tc.mean, tc.meanDim)
			require.ErrorIs(t, err, ErrDataFormat)
		})
	}
}

func TestValidateChannelsAndFrames(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 2, Seed: 1})
	require.NoError(t, raw.Validate(cfg))

	other := cfg
	other.NumChannels = 6
	other.FeatureChannels = nil
	require.ErrorIs(t, raw.Validate(other.WithDefaults()), ErrDataFormat)

	longer := cfg
	longer.FutureFrames = 12
	require.ErrorIs(t, raw.Validate(longer), ErrDataFormat)
}

func TestNpzRoundTrip(t *testing.T) {
	cfg := DefaultSceneConfig()
	cfg.MaxNumObjects = 10
	cfg.Layout = LayoutNVTC
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 4, MinObjects: 2, MaxObjects: 8, Seed: 9, MapSize: 4})
	path := filepath.Join(t.TempDir(), "scenes.npz")
	require.NoError(t, WriteNpz(path, raw))

	loaded, err := Load(path, cfg)
	require.NoError(t, err)
	require.Equal(t, raw.Feature, loaded.Feature)
	require.Equal(t, raw.Adjacency, loaded.Adjacency)
	require.Equal(t, raw.MeanXY, loaded.MeanXY)
	require.Equal(t, raw.Maps, loaded.Maps)
	require.Equal(t, 4, loaded.MapHeight)

	smaller := cfg
	smaller.MaxNumObjects = 6
	truncated, err := LoadNpz(path, smaller)
	require.NoError(t, err)
	require.Equal(t, 6, truncated.NumNodes)
	require.Equal(t, raw.at(3, 5, 7, 6), truncated.at(3, 5, 7, 6))
	require.Equal(t, raw.adjacency(2, 1, 5), truncated.adjacency(2, 1, 5))
}

func TestLoadNpzMissingFile(t *testing.T) {
	cfg := DefaultSceneConfig()
	_, err := LoadNpz(filepath.Join(t.TempDir(), "missing.npz"), cfg)
	require.Error(t, err)
}

func TestGobRoundTrip(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 3, Seed: 2})
	path := filepath.Join(t.TempDir(), "cache", "scenes.gob")
	require.NoError(t, SaveGob(path, raw))
	loaded, err := Load(path, cfg)
	require.NoError(t, err)
	require.Equal(t, raw, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "scenes.pkl"), cfg)
	require.Error(t, err)
}

func TestSceneConfigDefaultsAndValidate(t *testing.T) {
	cfg := SceneConfig{NumChannels: 6}.WithDefaults()
	require.Equal(t, []int{0, 1, 2, 3}, cfg.FeatureChannels)
	require.Equal(t, 4, cfg.ClassChannel())
	require.Equal(t, 5, cfg.ValidChannel())
	require.NoError(t, cfg.Validate())

	bad := DefaultSceneConfig()
	bad.FeatureChannels = []int{1, 0}
	require.ErrorIs(t, bad.Validate(), ErrDataFormat)
	bad = DefaultSceneConfig()
	bad.EdgeFeatureDim = 3
	require.ErrorIs(t, bad.Validate(), ErrDataFormat)

	layout, err := ParseLayout("nvtc")
	require.NoError(t, err)
	require.Equal(t, LayoutNVTC, layout)
	_, err = ParseLayout("TVNC")
	require.Error(t, err)
}
