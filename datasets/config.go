package datasets

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Layout is the axis order of the raw feature array.
type Layout int

const (
	// LayoutNCTV is scene × channel × time × node, the order written by the
	// upstream preprocessing scripts.
	LayoutNCTV Layout = iota

	// LayoutNVTC is scene × node × time × channel, the order used in memory.
	LayoutNVTC
)

func (l Layout) String() string {
	switch l {
	case LayoutNCTV:
		return "NCTV"
	case LayoutNVTC:
		return "NVTC"
	}
	return "Layout(?)"
}

// ParseLayout accepts "NCTV" or "NVTC" in any case.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NCTV", "":
		return LayoutNCTV, nil
	case "NVTC":
		return LayoutNVTC, nil
	}
	return 0, errors.Errorf("unknown feature layout %q (want NCTV or NVTC)", s)
}

// MarshalJSON writes the layout name.
func (l Layout) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// UnmarshalJSON reads a layout name.
func (l *Layout) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLayout(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// SceneConfig describes the shape of a scene: window sizes, node capacity and
// the meaning of the raw channels. It is passed to the builder, the dataset
// accessor and the predictor so that none of them relies on global constants.
//
// The last two raw channels are always the object class and the validity bit.
type SceneConfig struct {
	// HistoryFrames is the number of observed frames fed to the model.
	HistoryFrames int `json:"history_frames"`

	// FutureFrames is the number of predicted frames.
	FutureFrames int `json:"future_frames"`

	// MaxNumObjects is the node capacity. Raw arrays with more node slots are
	// truncated to it.
	MaxNumObjects int `json:"max_num_objects"`

	// NumChannels is the number of raw channels per node and frame.
	NumChannels int `json:"num_channels"`

	// FeatureChannels selects the raw channels copied into node features and
	// labels. The first two must be x and y.
	FeatureChannels []int `json:"feature_channels,omitempty"`

	// CarClass is the object class value whose future positions are supervised.
	CarClass float32 `json:"car_class"`

	// EdgeFeatureDim is 1 (inverse distance) or 2 (inverse distance and a
	// same-class flag).
	EdgeFeatureDim int `json:"edge_feature_dim"`

	// Layout of the feature array in raw .npz files.
	Layout Layout `json:"layout"`
}

// DefaultSceneConfig returns the configuration of the intersection drone
// dataset: 5 history frames, 3 future frames, 120 node slots and 7 channels
// (x, y, heading, vx, vy, class, valid).
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		HistoryFrames:   5,
		FutureFrames:    3,
		MaxNumObjects:   120,
		NumChannels:     7,
		FeatureChannels: []int{0, 1, 2, 3, 4},
		CarClass:        1,
		EdgeFeatureDim:  1,
		Layout:          LayoutNCTV,
	}
}

// WithDefaults returns a copy of c where zero-valued fields are replaced by
// the defaults.
func (c SceneConfig) WithDefaults() SceneConfig {
	def := DefaultSceneConfig()
	if c.HistoryFrames <= 0 {
		c.HistoryFrames = def.HistoryFrames
	}
	if c.FutureFrames <= 0 {
		c.FutureFrames = def.FutureFrames
	}
	if c.MaxNumObjects <= 0 {
		c.MaxNumObjects = def.MaxNumObjects
	}
	if c.NumChannels <= 0 {
		c.NumChannels = def.NumChannels
	}
	if len(c.FeatureChannels) == 0 {
		c.FeatureChannels = make([]int, c.NumChannels-2)
		for i := range c.FeatureChannels {
			c.FeatureChannels[i] = i
		}
	} else {
		c.FeatureChannels = append([]int(nil), c.FeatureChannels...)
	}
	if c.CarClass == 0 {
		c.CarClass = def.CarClass
	}
	if c.EdgeFeatureDim <= 0 {
		c.EdgeFeatureDim = def.EdgeFeatureDim
	}
	return c
}

// Validate checks the configuration for internal consistency.
func (c SceneConfig) Validate() error {
	if c.HistoryFrames < 1 || c.FutureFrames < 1 {
		return dataFormatErrorf("history_frames=%d and future_frames=%d must be positive", c.HistoryFrames, c.FutureFrames)
	}
	if c.MaxNumObjects < 1 {
		return dataFormatErrorf("max_num_objects=%d must be positive", c.MaxNumObjects)
	}
	if c.NumChannels < 4 {
		return dataFormatErrorf("num_channels=%d must hold at least x, y, class and valid", c.NumChannels)
	}
	if len(c.FeatureChannels) < 2 {
		return dataFormatErrorf("feature_channels=%v must start with x and y", c.FeatureChannels)
	}
	if c.FeatureChannels[0] != 0 || c.FeatureChannels[1] != 1 {
		return dataFormatErrorf("feature_channels=%v must start with channels 0 (x) and 1 (y)", c.FeatureChannels)
	}
	for _, ch := range c.FeatureChannels {
		if ch < 0 || ch >= c.NumChannels {
			return dataFormatErrorf("feature channel %d out of range [0, %d)", ch, c.NumChannels)
		}
	}
	if c.EdgeFeatureDim != 1 && c.EdgeFeatureDim != 2 {
		return dataFormatErrorf("edge_feature_dim=%d must be 1 or 2", c.EdgeFeatureDim)
	}
	return nil
}

// TotalFrames is HistoryFrames + FutureFrames.
func (c SceneConfig) TotalFrames() int { return c.HistoryFrames + c.FutureFrames }

// FeatureDim is the number of channels kept per node and frame.
func (c SceneConfig) FeatureDim() int { return len(c.FeatureChannels) }

// NodeInputDim is the flattened size of one node's history window.
func (c SceneConfig) NodeInputDim() int { return c.HistoryFrames * c.FeatureDim() }

// OutputDim is the size of one node's prediction: (x, y) per future frame.
func (c SceneConfig) OutputDim() int { return 2 * c.FutureFrames }

// ClassChannel is the raw channel holding the object class.
func (c SceneConfig) ClassChannel() int { return c.NumChannels - 2 }

// ValidChannel is the raw channel holding the validity bit.
func (c SceneConfig) ValidChannel() int { return c.NumChannels - 1 }

// LastHistoryFrame is the index of the frame used for distances and the car mask.
func (c SceneConfig) LastHistoryFrame() int { return c.HistoryFrames - 1 }
