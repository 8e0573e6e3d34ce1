package training

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Softmax applies a numerically stable row-wise softmax to 2D logits.
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("softmax requires 2D logits [batch_size, num_classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]
	result := make([]float32, logits.NumElems)

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		maxVal := logits.Data[offset]
		for j := 1; j < numClasses; j++ {
			if logits.Data[offset+j] > maxVal {
				maxVal = logits.Data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < numClasses; j++ {
			exp := math32.Exp(logits.Data[offset+j] - maxVal)
			result[offset+j] = exp
			sum += exp
		}

		for j := 0; j < numClasses; j++ {
			result[offset+j] /= sum
		}
	}

	return tensor.New(logits.Shape, result)
}

// CrossEntropyLoss implements mean-reduced cross entropy over class-index
// targets.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new cross entropy loss function
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes the mean cross entropy between logits and targets.
// logits: [batch_size, num_classes], targets: class indices.
func (ce *CrossEntropyLoss) Forward(logits *tensor.Tensor, targets []int) (float32, error) {
	if len(logits.Shape) != 2 {
		return 0, fmt.Errorf("logits must be 2D [batch_size, num_classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	if len(targets) != batchSize {
		return 0, fmt.Errorf("batch size mismatch: logits %d, targets %d", batchSize, len(targets))
	}

	probs, err := Softmax(logits)
	if err != nil {
		return 0, fmt.Errorf("softmax computation failed: %v", err)
	}

	var totalLoss float32
	for i, target := range targets {
		if target < 0 || target >= numClasses {
			return 0, fmt.Errorf("target class %d out of range [0, %d)", target, numClasses)
		}

		prob := probs.Data[i*numClasses+target]
		if prob < 1e-10 {
			prob = 1e-10
		}
		totalLoss += -math32.Log(prob)
	}

	return totalLoss / float32(batchSize), nil
}

// Backward computes the gradient of the mean cross entropy with respect to
// the logits: (softmax(logits) - onehot(targets)) / batch_size.
func (ce *CrossEntropyLoss) Backward(logits *tensor.Tensor, targets []int) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("logits must be 2D [batch_size, num_classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	if len(targets) != batchSize {
		return nil, fmt.Errorf("batch size mismatch: logits %d, targets %d", batchSize, len(targets))
	}

	grad, err := Softmax(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	for i, target := range targets {
		if target < 0 || target >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", target, numClasses)
		}
		grad.Data[i*numClasses+target] -= 1.0
	}

	grad.Scale(1.0 / float32(batchSize))
	return grad, nil
}

// SoftmaxMSELoss is the consistency penalty between the softened
// distributions of two views: mean((softmax(a) - softmax(b))^2) over all
// elements. It is a consistency-under-noise penalty, not a pseudo-label
// cross entropy.
type SoftmaxMSELoss struct{}

// NewSoftmaxMSELoss creates a new softmax MSE consistency loss
func NewSoftmaxMSELoss() *SoftmaxMSELoss {
	return &SoftmaxMSELoss{}
}

// Forward computes the mean squared error between the softmax outputs of
// two logit tensors of the same shape.
func (sm *SoftmaxMSELoss) Forward(logitsA, logitsB *tensor.Tensor) (float32, error) {
	if !tensor.SameShape(logitsA, logitsB) {
		return 0, fmt.Errorf("logit shape mismatch: %v vs %v", logitsA.Shape, logitsB.Shape)
	}

	pa, err := Softmax(logitsA)
	if err != nil {
		return 0, fmt.Errorf("softmax computation failed: %v", err)
	}
	pb, err := Softmax(logitsB)
	if err != nil {
		return 0, fmt.Errorf("softmax computation failed: %v", err)
	}

	var sum float32
	for i := range pa.Data {
		diff := pa.Data[i] - pb.Data[i]
		sum += diff * diff
	}

	return sum / float32(pa.NumElems), nil
}

// Backward computes the gradient of Forward with respect to logitsB, with
// logitsA held fixed as the consistency target. For each row, with
// p = softmax(b) and d = p - softmax(a):
// dL/db_j = (2/N) * p_j * (d_j - sum_k d_k * p_k)
func (sm *SoftmaxMSELoss) Backward(logitsA, logitsB *tensor.Tensor) (*tensor.Tensor, error) {
	if !tensor.SameShape(logitsA, logitsB) {
		return nil, fmt.Errorf("logit shape mismatch: %v vs %v", logitsA.Shape, logitsB.Shape)
	}

	pa, err := Softmax(logitsA)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}
	pb, err := Softmax(logitsB)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	batchSize := logitsB.Shape[0]
	numClasses := logitsB.Shape[1]
	n := float32(logitsB.NumElems)

	grad := make([]float32, logitsB.NumElems)
	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		var dot float32
		for j := 0; j < numClasses; j++ {
			dot += (pb.Data[offset+j] - pa.Data[offset+j]) * pb.Data[offset+j]
		}

		for j := 0; j < numClasses; j++ {
			d := pb.Data[offset+j] - pa.Data[offset+j]
			grad[offset+j] = 2.0 / n * pb.Data[offset+j] * (d - dot)
		}
	}

	return tensor.New(logitsB.Shape, grad)
}

// WarmupFactor returns the unsupervised-loss ramp coefficient for the given
// iteration: clip(it / (warmupPos * totalIters), 0, 1). It is 0 at it=0,
// rises linearly, and saturates at 1 once the warmup fraction of training
// has elapsed.
func WarmupFactor(it, totalIters int, warmupPos float64) float64 {
	if totalIters <= 0 || warmupPos <= 0 {
		return 1.0
	}

	factor := float64(it) / (warmupPos * float64(totalIters))
	if factor < 0 {
		return 0
	}
	if factor > 1 {
		return 1
	}
	return factor
}

// OneHot expands class-index targets into a [len(targets), numClasses]
// one-hot tensor.
func OneHot(targets []int, numClasses int) (*tensor.Tensor, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid class count: %d", numClasses)
	}

	data := make([]float32, len(targets)*numClasses)
	for i, target := range targets {
		if target < 0 || target >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", target, numClasses)
		}
		data[i*numClasses+target] = 1.0
	}

	return tensor.New([]int{len(targets), numClasses}, data)
}
