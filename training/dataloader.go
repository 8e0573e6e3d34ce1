package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// LabeledBatch carries one batch from the labeled stream: sample indices,
// weakly augmented inputs, and class labels.
type LabeledBatch struct {
	Indices []int
	Data    *tensor.Tensor // [batch_size, features]
	Labels  []int
}

// UnlabeledBatch carries one batch from the unlabeled stream: sample
// indices and two weakly augmented views of the same images.
type UnlabeledBatch struct {
	Indices []int
	View1   *tensor.Tensor // [batch_size, features]
	View2   *tensor.Tensor // [batch_size, features]
}

// LabeledProducer yields labeled batches. Training producers must be
// infinite (resampling); evaluation producers return (nil, nil) when a
// pass over the held-out set completes.
type LabeledProducer interface {
	Next() (*LabeledBatch, error)
}

// UnlabeledProducer yields two-view unlabeled batches. Training producers
// must be infinite (resampling).
type UnlabeledProducer interface {
	Next() (*UnlabeledBatch, error)
}

// EvalProducer yields labeled batches over a held-out set, one finite pass
// per Reset.
type EvalProducer interface {
	Reset()
	Next() (*LabeledBatch, error)
}

// SliceLabeledLoader serves labeled batches from in-memory tensors. With
// Infinite set it reshuffles and wraps around instead of ending the epoch,
// so it can feed a fixed iteration budget.
type SliceLabeledLoader struct {
	data      *tensor.Tensor // [num_samples, features]
	labels    []int
	batchSize int
	shuffle   bool
	infinite  bool

	indices  []int
	position int
	rng      *rand.Rand
	mutex    sync.Mutex
}

// NewSliceLabeledLoader creates a loader over [num_samples, features] data
// and per-sample class labels.
func NewSliceLabeledLoader(data *tensor.Tensor, labels []int, batchSize int, shuffle, infinite bool, seed int64) (*SliceLabeledLoader, error) {
	if len(data.Shape) != 2 {
		return nil, fmt.Errorf("data must be 2D [num_samples, features], got shape %v", data.Shape)
	}
	if data.Shape[0] != len(labels) {
		return nil, fmt.Errorf("sample count mismatch: data %d, labels %d", data.Shape[0], len(labels))
	}
	if batchSize <= 0 || batchSize > data.Shape[0] {
		return nil, fmt.Errorf("invalid batch size %d for %d samples", batchSize, data.Shape[0])
	}

	l := &SliceLabeledLoader{
		data:      data,
		labels:    labels,
		batchSize: batchSize,
		shuffle:   shuffle,
		infinite:  infinite,
		indices:   make([]int, data.Shape[0]),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i := range l.indices {
		l.indices[i] = i
	}
	if shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}

	return l, nil
}

// Reset rewinds the loader for a new pass
func (l *SliceLabeledLoader) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Next returns the next batch, or (nil, nil) at the end of a finite pass.
func (l *SliceLabeledLoader) Next() (*LabeledBatch, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.position+l.batchSize > len(l.indices) {
		if !l.infinite {
			return nil, nil
		}
		l.position = 0
		if l.shuffle {
			l.rng.Shuffle(len(l.indices), func(i, j int) {
				l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
			})
		}
	}

	batchIndices := l.indices[l.position : l.position+l.batchSize]
	l.position += l.batchSize

	features := l.data.Shape[1]
	data := make([]float32, l.batchSize*features)
	labels := make([]int, l.batchSize)
	indices := make([]int, l.batchSize)

	for i, idx := range batchIndices {
		copy(data[i*features:(i+1)*features], l.data.Data[idx*features:(idx+1)*features])
		labels[i] = l.labels[idx]
		indices[i] = idx
	}

	batchData, err := tensor.New([]int{l.batchSize, features}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch: %v", err)
	}

	return &LabeledBatch{Indices: indices, Data: batchData, Labels: labels}, nil
}

// SliceUnlabeledLoader serves two-view unlabeled batches from in-memory
// view tensors. The augmentation pipeline that produced the views is an
// external collaborator; this loader only pairs and batches them.
type SliceUnlabeledLoader struct {
	view1     *tensor.Tensor
	view2     *tensor.Tensor
	batchSize int
	shuffle   bool
	infinite  bool

	indices  []int
	position int
	rng      *rand.Rand
	mutex    sync.Mutex
}

// NewSliceUnlabeledLoader creates a loader over paired view tensors of
// identical shape [num_samples, features].
func NewSliceUnlabeledLoader(view1, view2 *tensor.Tensor, batchSize int, shuffle, infinite bool, seed int64) (*SliceUnlabeledLoader, error) {
	if len(view1.Shape) != 2 {
		return nil, fmt.Errorf("views must be 2D [num_samples, features], got shape %v", view1.Shape)
	}
	if !tensor.SameShape(view1, view2) {
		return nil, fmt.Errorf("view shape mismatch: %v vs %v", view1.Shape, view2.Shape)
	}
	if batchSize <= 0 || batchSize > view1.Shape[0] {
		return nil, fmt.Errorf("invalid batch size %d for %d samples", batchSize, view1.Shape[0])
	}

	l := &SliceUnlabeledLoader{
		view1:     view1,
		view2:     view2,
		batchSize: batchSize,
		shuffle:   shuffle,
		infinite:  infinite,
		indices:   make([]int, view1.Shape[0]),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i := range l.indices {
		l.indices[i] = i
	}
	if shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}

	return l, nil
}

// Next returns the next two-view batch, or (nil, nil) at the end of a
// finite pass.
func (l *SliceUnlabeledLoader) Next() (*UnlabeledBatch, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.position+l.batchSize > len(l.indices) {
		if !l.infinite {
			return nil, nil
		}
		l.position = 0
		if l.shuffle {
			l.rng.Shuffle(len(l.indices), func(i, j int) {
				l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
			})
		}
	}

	batchIndices := l.indices[l.position : l.position+l.batchSize]
	l.position += l.batchSize

	features := l.view1.Shape[1]
	v1 := make([]float32, l.batchSize*features)
	v2 := make([]float32, l.batchSize*features)
	indices := make([]int, l.batchSize)

	for i, idx := range batchIndices {
		copy(v1[i*features:(i+1)*features], l.view1.Data[idx*features:(idx+1)*features])
		copy(v2[i*features:(i+1)*features], l.view2.Data[idx*features:(idx+1)*features])
		indices[i] = idx
	}

	batchV1, err := tensor.New([]int{l.batchSize, features}, v1)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch: %v", err)
	}
	batchV2, err := tensor.New([]int{l.batchSize, features}, v2)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch: %v", err)
	}

	return &UnlabeledBatch{Indices: indices, View1: batchV1, View2: batchV2}, nil
}
