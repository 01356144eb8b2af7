package datasets

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// sceneSpec describes one hand-written scene for the tests.
type sceneSpec struct {
	adjacency [][]float32
	// xy[i] is node i's position; it is held for all frames.
	xy    [][2]float32
	class []float32
	// invalid[i] lists future frames where node i is not valid.
	invalid map[int][]int
}

// makeRaw builds raw data in NVTC layout from scene specs. All scenes must
// have the same number of node slots.
func makeRaw(t *testing.T, cfg SceneConfig, scenes []sceneSpec) *RawData {
	t.Helper()
	cfg = cfg.WithDefaults()
	n, v, frames, c := len(scenes), len(scenes[0].adjacency), cfg.TotalFrames(), cfg.NumChannels
	feature := make([]float32, n*v*frames*c)
	adjacency := make([]float32, n*v*v)
	for s, sc := range scenes {
		require.Len(t, sc.adjacency, v)
		for i := range v {
			copy(adjacency[(s*v+i)*v:(s*v+i+1)*v], sc.adjacency[i])
			for f := range frames {
				base := ((s*v+i)*frames + f) * c
				if i < len(sc.xy) {
					feature[base], feature[base+1] = sc.xy[i][0], sc.xy[i][1]
				}
				feature[base+2] = float32(i)
				if i < len(sc.class) {
					feature[base+cfg.ClassChannel()] = sc.class[i]
				}
				feature[base+cfg.ValidChannel()] = 1
			}
			for _, f := range sc.invalid[i] {
				feature[((s*v+i)*frames+cfg.HistoryFrames+f)*c+cfg.ValidChannel()] = 0
			}
		}
	}
	raw, err := NewRawData(feature, []int{n, v, frames, c}, LayoutNVTC, adjacency, []int{n, v, v}, nil, nil)
	require.NoError(t, err)
	return raw
}

func TestBuildThreeNodeScene(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{1, 1, 0}, {0, 1, 1}, {0, 0, 0}},
		xy:        [][2]float32{{0, 0}, {3, 4}, {10, 10}},
		class:     []float32{1, 1, 1},
	}})
	g, err := BuildSceneGraph(raw, cfg, 0)
	require.NoError(t, err)
	require.Equal(t, 2, g.NumNodes)
	require.Equal(t, 3, g.NumEdges())
	require.Equal(t, []int32{0, 0, 1}, g.Src)
	require.Equal(t, []int32{1, 0, 1}, g.Dst)
	require.InDelta(t, 1.0/5.0, g.EdgeWeight(0), 1e-6)
	require.Equal(t, float32(1), g.EdgeWeight(1))
	require.Equal(t, float32(1), g.EdgeWeight(2))
	require.Len(t, g.Features, 2*cfg.HistoryFrames*5)
	require.Len(t, g.Labels, 2*cfg.FutureFrames*5)
	require.Len(t, g.Mask, 2*cfg.FutureFrames)
}

func TestBuildZeroDiagonalAtFirstSlot(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{0, 1, 0}, {1, 0, 1}, {0, 0, 0}},
		xy:        [][2]float32{{0, 0}, {1, 0}, {2, 0}},
		class:     []float32{1, 1, 1},
	}})
	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	n, full := b.LastVisibleObject(0)
	require.Equal(t, 0, n)
	require.False(t, full)
	_, err = b.Build(0)
	require.ErrorIs(t, err, ErrEmptyScene)
}

func TestBuildFullDiagonalUsesAllSlots(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		xy:        [][2]float32{{0, 0}, {1, 0}, {2, 0}},
		class:     []float32{1, 1, 1},
	}})
	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	n, full := b.LastVisibleObject(0)
	require.Equal(t, 3, n)
	require.True(t, full)
	g, err := b.Build(0)
	require.NoError(t, err)
	require.Equal(t, 3, g.NumNodes)
	require.Equal(t, []int{1, 1, 1}, g.InDegrees())
}

func TestBuilderTruncatesToCapacity(t *testing.T) {
	cfg := DefaultSceneConfig()
	const slots = 150
	adjacency := make([][]float32, slots)
	xy := make([][2]float32, slots)
	class := make([]float32, slots)
	for i := range slots {
		adjacency[i] = make([]float32, slots)
		adjacency[i][i] = 1
		xy[i] = [2]float32{float32(i), 0}
		class[i] = 1
	}
	raw := makeRaw(t, cfg, []sceneSpec{{adjacency: adjacency, xy: xy, class: class}})
	require.Equal(t, slots, raw.NumNodes)

	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.MaxNumObjects, b.Raw().NumNodes)
	n, full := b.LastVisibleObject(0)
	require.Equal(t, cfg.MaxNumObjects, n)
	require.True(t, full)

	g, err := b.Build(0)
	require.NoError(t, err)
	require.Equal(t, cfg.MaxNumObjects, g.NumNodes)
	require.Len(t, g.InDegrees(), cfg.MaxNumObjects)
	require.NoError(t, CheckInDegree(g.Dst, g.NumNodes))
	x, _ := g.Position(cfg.MaxNumObjects-1, cfg.HistoryFrames-1)
	require.Equal(t, float32(cfg.MaxNumObjects-1), x)
	require.Equal(t, slots, raw.NumNodes, "the caller's raw data is left untouched")
}

func TestBuildSelfLoopsAndWeights(t *testing.T) {
	cfg := DefaultSceneConfig()
	cfg.MaxNumObjects = 30
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 20, MinObjects: 1, MaxObjects: 25, Seed: 7})
	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	for scene := range raw.NumScenes {
		g, err := b.Build(scene)
		require.NoError(t, err)
		n, _ := b.LastVisibleObject(scene)
		require.Equal(t, n, g.NumNodes)
		require.LessOrEqual(t, g.NumNodes, cfg.MaxNumObjects)
		require.NoError(t, CheckInDegree(g.Dst, g.NumNodes))

		selfLoops := 0
		for e := range g.Src {
			w := g.EdgeWeight(e)
			require.False(t, math.IsNaN(float64(w)) || math.IsInf(float64(w), 0), "scene %d edge %d weight %v", scene, e, w)
			if g.Src[e] == g.Dst[e] {
				selfLoops++
				require.Equal(t, float32(1), w)
				continue
			}
			x0, y0 := g.Position(int(g.Src[e]), cfg.LastHistoryFrame())
			x1, y1 := g.Position(int(g.Dst[e]), cfg.LastHistoryFrame())
			d := math.Hypot(float64(x0-x1), float64(y0-y1))
			require.InDelta(t, InverseDistance(d), w, 1e-5)
		}
		require.Equal(t, g.NumNodes, selfLoops)
	}
}

func TestBuildCoincidentNodes(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{1, 1}, {1, 1}},
		xy:        [][2]float32{{2, 2}, {2, 2}},
		class:     []float32{1, 1},
	}})
	g, err := BuildSceneGraph(raw, cfg, 0)
	require.NoError(t, err)
	for e := range g.Src {
		require.Equal(t, float32(1), g.EdgeWeight(e))
	}
}

func TestBuildMask(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{1, 1, 0}, {1, 1, 0}, {0, 0, 0}},
		xy:        [][2]float32{{0, 0}, {5, 0}},
		class:     []float32{1, 2},
		invalid:   map[int][]int{0: {1}},
	}})
	g, err := BuildSceneGraph(raw, cfg, 0)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 1, 0, 0, 0}, g.Mask)
}

func TestBuildSameClassEdgeFeature(t *testing.T) {
	cfg := DefaultSceneConfig()
	cfg.EdgeFeatureDim = 2
	raw := makeRaw(t, cfg, []sceneSpec{{
		adjacency: [][]float32{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
		xy:        [][2]float32{{0, 0}, {1, 0}, {0, 2}},
		class:     []float32{1, 1, 2},
	}})
	g, err := BuildSceneGraph(raw, cfg, 0)
	require.NoError(t, err)
	require.Equal(t, 2, g.EdgeFeatureDim)
	for e := range g.Src {
		same := float32(0)
		if (g.Src[e] == 2) == (g.Dst[e] == 2) {
			same = 1
		}
		require.Equal(t, same, g.EdgeFeatures[2*e+1], "edge %d->%d", g.Src[e], g.Dst[e])
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 3, MinObjects: 4, MaxObjects: 12, Seed: 3})
	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	for scene := range raw.NumScenes {
		g1, err := b.Build(scene)
		require.NoError(t, err)
		g1.Features[0] += 100
		g2, err := b.Build(scene)
		require.NoError(t, err)
		g3, err := b.Build(scene)
		require.NoError(t, err)
		if diff := cmp.Diff(g2, g3); diff != "" {
			t.Fatalf("scene %d rebuilt differently (-first +second):\n%s", scene, diff)
		}
		require.Equal(t, g2.Src, g1.Src)
		require.Equal(t, g2.EdgeFeatures, g1.EdgeFeatures)
		require.NotEqual(t, g1.Features[0], g2.Features[0])
	}
}

func TestBuildOutOfRange(t *testing.T) {
	cfg := DefaultSceneConfig()
	raw := Synthetic(cfg, SyntheticOptions{Scenes: 2, Seed: 1})
	b, err := NewBuilder(raw, cfg)
	require.NoError(t, err)
	_, err = b.Build(2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = b.Build(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestCheckInDegree(t *testing.T) {
	require.NoError(t, CheckInDegree([]int32{0, 1, 1}, 2))
	require.ErrorIs(t, CheckInDegree([]int32{1, 1}, 2), ErrDegenerateGraph)
	require.ErrorIs(t, CheckInDegree([]int32{0, 2}, 2), ErrDegenerateGraph)
}
