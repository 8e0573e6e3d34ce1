package training

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Algorithm is the closed set of semi-supervised consistency strategies.
// Each algorithm computes the unsupervised loss for the two weakly
// augmented views of an unlabeled batch, plus the gradient seed to
// backpropagate through the second view's forward pass. The first view
// serves as the consistency target and receives no gradient.
type Algorithm interface {
	Name() string

	// UnsupLoss returns the scalar unsupervised loss and its gradient with
	// respect to logitsW2.
	UnsupLoss(logitsW1, logitsW2 *tensor.Tensor) (float32, *tensor.Tensor, error)
}

// PiModelAlgorithm penalizes the mean squared error between the softened
// distributions of the two views.
type PiModelAlgorithm struct {
	consistency *SoftmaxMSELoss
}

// NewPiModelAlgorithm creates the PiModel consistency strategy
func NewPiModelAlgorithm() *PiModelAlgorithm {
	return &PiModelAlgorithm{consistency: NewSoftmaxMSELoss()}
}

func (a *PiModelAlgorithm) Name() string {
	return "pimodel"
}

func (a *PiModelAlgorithm) UnsupLoss(logitsW1, logitsW2 *tensor.Tensor) (float32, *tensor.Tensor, error) {
	loss, err := a.consistency.Forward(logitsW1, logitsW2)
	if err != nil {
		return 0, nil, fmt.Errorf("consistency loss failed: %v", err)
	}

	grad, err := a.consistency.Backward(logitsW1, logitsW2)
	if err != nil {
		return 0, nil, fmt.Errorf("consistency gradient failed: %v", err)
	}

	return loss, grad, nil
}

// PseudoLabelAlgorithm turns confident predictions on the first view into
// hard pseudo-labels and trains the second view against them with a masked
// cross entropy. Rows whose maximum predicted probability falls below the
// confidence threshold contribute nothing.
type PseudoLabelAlgorithm struct {
	// Threshold is the minimum first-view confidence for a row to receive
	// a pseudo-label.
	Threshold float32
}

// NewPseudoLabelAlgorithm creates the pseudo-label consistency strategy
func NewPseudoLabelAlgorithm(threshold float32) (*PseudoLabelAlgorithm, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be in (0, 1], got %f", threshold)
	}
	return &PseudoLabelAlgorithm{Threshold: threshold}, nil
}

func (a *PseudoLabelAlgorithm) Name() string {
	return "pseudolabel"
}

func (a *PseudoLabelAlgorithm) UnsupLoss(logitsW1, logitsW2 *tensor.Tensor) (float32, *tensor.Tensor, error) {
	if !tensor.SameShape(logitsW1, logitsW2) {
		return 0, nil, fmt.Errorf("logit shape mismatch: %v vs %v", logitsW1.Shape, logitsW2.Shape)
	}

	probs, err := Softmax(logitsW1)
	if err != nil {
		return 0, nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	batchSize := logitsW1.Shape[0]
	numClasses := logitsW1.Shape[1]

	pseudoLabels := make([]int, batchSize)
	mask := make([]bool, batchSize)
	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		maxIdx := 0
		maxVal := probs.Data[offset]
		for j := 1; j < numClasses; j++ {
			if probs.Data[offset+j] > maxVal {
				maxVal = probs.Data[offset+j]
				maxIdx = j
			}
		}

		pseudoLabels[i] = maxIdx
		mask[i] = maxVal >= a.Threshold
	}

	// Masked mean cross entropy over the second view, normalized by the
	// full batch size so the loss shrinks as confidence drops.
	probs2, err := Softmax(logitsW2)
	if err != nil {
		return 0, nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	var loss float32
	grad := make([]float32, logitsW2.NumElems)
	for i := 0; i < batchSize; i++ {
		if !mask[i] {
			continue
		}

		offset := i * numClasses
		prob := probs2.Data[offset+pseudoLabels[i]]
		if prob < 1e-10 {
			prob = 1e-10
		}
		loss += -math32.Log(prob)

		for j := 0; j < numClasses; j++ {
			grad[offset+j] = probs2.Data[offset+j] / float32(batchSize)
		}
		grad[offset+pseudoLabels[i]] -= 1.0 / float32(batchSize)
	}
	loss /= float32(batchSize)

	gradT, err := tensor.New(logitsW2.Shape, grad)
	if err != nil {
		return 0, nil, err
	}

	return loss, gradT, nil
}
