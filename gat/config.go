package gat

// Config holds the hyperparameters of the predictor network.
type Config struct {
	// HiddenDim is the width of node and edge embeddings. If zero, 256 is used.
	HiddenDim int `json:"hidden_dim"`

	// Heads is the number of attention heads of the first attention stage.
	// With more than one head the heads are concatenated and the second stage
	// runs at HiddenDim*Heads. If zero, 1 is used.
	Heads int `json:"heads"`

	// Dropout is applied before the output projection.
	Dropout float64 `json:"dropout"`

	// FeatDrop and AttnDrop are the input-feature and attention-coefficient
	// dropout rates of the first attention stage. The second stage runs
	// without dropout.
	FeatDrop float64 `json:"feat_drop"`
	AttnDrop float64 `json:"attn_drop"`

	// AttentionEdgeWeight adds the edge embedding to the attention score input.
	AttentionEdgeWeight bool `json:"att_ew"`

	// Residual adds each attention layer's input to its output.
	Residual bool `json:"residual"`

	// NegativeSlope of the leaky rectifier on attention logits. If zero, 0.01 is used.
	NegativeSlope float64 `json:"negative_slope"`

	// Backbone selects and configures the visual feature extractor.
	Backbone BackboneConfig `json:"backbone"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		HiddenDim:           256,
		Heads:               1,
		Dropout:             0.2,
		AttentionEdgeWeight: true,
		Residual:            true,
		NegativeSlope:       0.01,
		Backbone:            BackboneConfig{Kind: BackboneNone},
	}
}

// withDefaults fills zero-valued sizes.
func (c Config) withDefaults() Config {
	if c.HiddenDim <= 0 {
		c.HiddenDim = 256
	}
	if c.Heads <= 0 {
		c.Heads = 1
	}
	if c.NegativeSlope == 0 {
		c.NegativeSlope = 0.01
	}
	if c.Backbone.Kind == "" {
		c.Backbone.Kind = BackboneNone
	}
	c.Backbone = c.Backbone.withDefaults(c.HiddenDim)
	return c
}
