package datasets

import (
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Iterator yields the batches of a split one epoch at a time, in the shape
// gomlx training loops consume: model inputs (see GraphBatch.ToGomlxTensors)
// and labels [target offsets (nodes, future, 2), mask (nodes, future)].
// Yield returns io.EOF at the end of an epoch; Reset starts the next one.
type Iterator struct {
	view      *SplitView
	batchSize int
	shuffle   bool
	rand      *rand.Rand

	order []int
	pos   int
}

// NewIterator returns an iterator over view with the given batch size. The
// split order is kept unless Shuffle is called.
func NewIterator(view *SplitView, batchSize int) *Iterator {
	it := &Iterator{view: view, batchSize: max(batchSize, 1)}
	it.Reset()
	return it
}

// Shuffle makes every epoch, the current one included, visit the split in a
// random order drawn from seed.
func (it *Iterator) Shuffle(seed int64) *Iterator {
	it.shuffle = true
	it.rand = rand.New(rand.NewSource(seed))
	it.Reset()
	return it
}

// Name returns the name of the iterated split.
func (it *Iterator) Name() string { return "scenes/" + it.view.Split().String() }

// Reset rewinds to the start of a new epoch.
func (it *Iterator) Reset() {
	it.pos = 0
	if len(it.order) != it.view.Len() {
		it.order = make([]int, it.view.Len())
	}
	for i := range it.order {
		it.order[i] = i
	}
	if it.shuffle {
		it.rand.Shuffle(len(it.order), func(i, j int) { it.order[i], it.order[j] = it.order[j], it.order[i] })
	}
}

// Next returns the next batch of the epoch, or io.EOF when it is exhausted.
// The last batch may be smaller than the batch size.
func (it *Iterator) Next() (*GraphBatch, error) {
	if it.pos >= len(it.order) {
		return nil, io.EOF
	}
	end := min(it.pos+it.batchSize, len(it.order))
	indices := it.order[it.pos:end]
	it.pos = end
	return it.view.Batch(indices)
}

// Yield returns the next batch as tensors. spec is the *GraphBatch the
// tensors were packed from.
func (it *Iterator) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := it.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	offsets, mask := batch.TargetOffsets()
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(offsets, batch.NumNodes, batch.FutureFrames, 2),
		tensors.FromFlatDataAndDimensions(mask, batch.NumNodes, batch.FutureFrames),
	}
	return batch, batch.ToGomlxTensors(), labels, nil
}
