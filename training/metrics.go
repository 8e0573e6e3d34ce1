package training

import (
	"fmt"
	"strings"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// ConfusionMatrix accumulates classification outcomes as
// [true_class][predicted_class] counts.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update records one prediction
func (cm *ConfusionMatrix) Update(trueClass, predictedClass int) error {
	if trueClass < 0 || trueClass >= cm.NumClasses {
		return fmt.Errorf("true class %d out of range [0, %d)", trueClass, cm.NumClasses)
	}
	if predictedClass < 0 || predictedClass >= cm.NumClasses {
		return fmt.Errorf("predicted class %d out of range [0, %d)", predictedClass, cm.NumClasses)
	}

	cm.Matrix[trueClass][predictedClass]++
	cm.TotalSamples++
	return nil
}

// GetAccuracy returns the overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

// String renders the matrix as a row-per-class grid for logging
func (cm *ConfusionMatrix) String() string {
	var sb strings.Builder
	for i := 0; i < cm.NumClasses; i++ {
		for j := 0; j < cm.NumClasses; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", cm.Matrix[i][j])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Argmax returns the index of the largest value in a logit row.
func Argmax(row []float32) int {
	maxIdx := 0
	maxVal := row[0]
	for j := 1; j < len(row); j++ {
		if row[j] > maxVal {
			maxVal = row[j]
			maxIdx = j
		}
	}
	return maxIdx
}

// TopKCorrect counts how many rows of a logits batch rank the true label
// within the k largest scores.
func TopKCorrect(logits *tensor.Tensor, labels []int, k int) (int, error) {
	if len(logits.Shape) != 2 {
		return 0, fmt.Errorf("logits must be 2D [batch_size, num_classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	if len(labels) != batchSize {
		return 0, fmt.Errorf("batch size mismatch: logits %d, labels %d", batchSize, len(labels))
	}
	if k <= 0 {
		return 0, fmt.Errorf("k must be positive: %d", k)
	}
	if k > numClasses {
		k = numClasses
	}

	correct := 0
	for i := 0; i < batchSize; i++ {
		row := logits.Data[i*numClasses : (i+1)*numClasses]
		label := labels[i]
		if label < 0 || label >= numClasses {
			return 0, fmt.Errorf("label %d out of range [0, %d)", label, numClasses)
		}

		// The label is in the top k iff fewer than k classes score
		// strictly higher than it.
		higher := 0
		for j, v := range row {
			if v > row[label] || (v == row[label] && j < label) {
				higher++
			}
		}
		if higher < k {
			correct++
		}
	}

	return correct, nil
}
