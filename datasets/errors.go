package datasets

import "github.com/pkg/errors"

// Error classes reported by the dataset pipeline. Callers match them with
// errors.Is; the returned errors carry the offending scene, split or index.
var (
	// ErrDataFormat is reported for malformed or shape-inconsistent raw input.
	ErrDataFormat = errors.New("malformed raw data")

	// ErrEmptyScene is reported when a scene has no active nodes.
	ErrEmptyScene = errors.New("scene has no active nodes")

	// ErrInvalidSplit is reported for split names other than train, validation or test.
	ErrInvalidSplit = errors.New("invalid split")

	// ErrIndexOutOfRange is reported when an index is outside a split or the raw data.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrDegenerateGraph is reported when a node has no incoming edge.
	ErrDegenerateGraph = errors.New("degenerate graph")
)

func dataFormatErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrDataFormat, format, args...)
}
