package datasets

import (
	"math"
	"math/rand"
)

// SyntheticOptions controls the scenes generated by Synthetic.
type SyntheticOptions struct {
	Scenes     int
	MinObjects int
	MaxObjects int
	Seed       int64

	// NeighborDistance links two objects whose last-history positions are
	// closer than it. Defaults to 10.
	NeighborDistance float64

	// MapSize, when positive, attaches 3 × MapSize × MapSize map patches.
	MapSize int
}

// Synthetic generates raw data of objects moving at constant velocity with
// a little noise, for tests and demos. Most objects are cars; the rest use
// class 2. Node slots past each scene's object count are padding.
func Synthetic(cfg SceneConfig, opts SyntheticOptions) *RawData {
	cfg = cfg.WithDefaults()
	if opts.Scenes <= 0 {
		opts.Scenes = 10
	}
	if opts.MinObjects <= 0 {
		opts.MinObjects = 1
	}
	if opts.MaxObjects < opts.MinObjects {
		opts.MaxObjects = opts.MinObjects
	}
	opts.MaxObjects = min(opts.MaxObjects, cfg.MaxNumObjects)
	opts.MinObjects = min(opts.MinObjects, opts.MaxObjects)
	if opts.NeighborDistance <= 0 {
		opts.NeighborDistance = 10
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	n, v, t, c := opts.Scenes, cfg.MaxNumObjects, cfg.TotalFrames(), cfg.NumChannels
	raw := &RawData{
		NumScenes:   n,
		NumNodes:    v,
		NumFrames:   t,
		NumChannels: c,
		Feature:     make([]float32, n*v*t*c),
		Adjacency:   make([]float32, n*v*v),
		MeanXY:      make([]float32, 2*n),
	}
	last := cfg.LastHistoryFrame()
	for s := range n {
		active := opts.MinObjects + rng.Intn(opts.MaxObjects-opts.MinObjects+1)
		raw.MeanXY[2*s] = float32(rng.NormFloat64() * 50)
		raw.MeanXY[2*s+1] = float32(rng.NormFloat64() * 50)
		for i := range active {
			x, y := rng.Float64()*30-15, rng.Float64()*30-15
			heading := rng.Float64() * 2 * math.Pi
			speed := 0.5 + rng.Float64()*2
			vx, vy := speed*math.Cos(heading), speed*math.Sin(heading)
			class := float32(1)
			if rng.Float64() < 0.2 {
				class = 2
			}
			for f := range t {
				base := ((s*v+i)*t + f) * c
				raw.Feature[base] = float32(x + vx*float64(f) + rng.NormFloat64()*0.05)
				raw.Feature[base+1] = float32(y + vy*float64(f) + rng.NormFloat64()*0.05)
				raw.Feature[base+2] = float32(heading)
				if c >= 7 {
					raw.Feature[base+3] = float32(vx)
					raw.Feature[base+4] = float32(vy)
				}
				raw.Feature[base+cfg.ClassChannel()] = class
				if f < cfg.HistoryFrames || rng.Float64() < 0.9 {
					raw.Feature[base+cfg.ValidChannel()] = 1
				}
			}
			raw.Adjacency[(s*v+i)*v+i] = 1
		}
		for i := range active {
			for j := range active {
				if i == j {
					continue
				}
				bi := ((s*v+i)*t + last) * c
				bj := ((s*v+j)*t + last) * c
				dx := float64(raw.Feature[bi] - raw.Feature[bj])
				dy := float64(raw.Feature[bi+1] - raw.Feature[bj+1])
				if math.Hypot(dx, dy) < opts.NeighborDistance {
					raw.Adjacency[(s*v+i)*v+j] = 1
				}
			}
		}
	}
	if opts.MapSize > 0 {
		raw.MapChannels, raw.MapHeight, raw.MapWidth = 3, opts.MapSize, opts.MapSize
		raw.Maps = make([]float32, n*v*raw.MapSize())
		for i := range raw.Maps {
			raw.Maps[i] = rng.Float32()
		}
	}
	return raw
}
