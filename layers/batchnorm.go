package layers

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// BatchNorm implements Batch Normalization over 2D inputs [batch_size, features].
//
// In training mode the layer normalizes with batch statistics and updates
// its running mean/variance. When statistics are frozen the layer still
// normalizes with batch statistics but leaves the running estimates
// untouched, so forward passes over batches with an unknown class
// distribution cannot skew them.
type BatchNorm struct {
	name        string
	numFeatures int
	eps         float32
	momentum    float32
	gamma       *Parameter
	beta        *Parameter
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor

	training    bool
	statsFrozen bool

	// Backward caches from the most recent Forward
	xhat      []float32
	invStd    []float32
	batchSize int
	usedBatch bool // whether forward normalized with batch statistics
}

// NewBatchNorm creates a new Batch Normalization layer
func NewBatchNorm(name string, numFeatures int, eps, momentum float32) (*BatchNorm, error) {
	if numFeatures <= 0 {
		return nil, fmt.Errorf("invalid feature count: %d", numFeatures)
	}
	if eps <= 0 {
		eps = 1e-5
	}
	if momentum <= 0 {
		momentum = 0.1
	}

	gammaData := make([]float32, numFeatures)
	for i := range gammaData {
		gammaData[i] = 1.0
	}
	gamma, err := tensor.New([]int{numFeatures}, gammaData)
	if err != nil {
		return nil, fmt.Errorf("failed to create gamma tensor: %v", err)
	}

	beta, err := tensor.New([]int{numFeatures}, make([]float32, numFeatures))
	if err != nil {
		return nil, fmt.Errorf("failed to create beta tensor: %v", err)
	}

	runningVarData := make([]float32, numFeatures)
	for i := range runningVarData {
		runningVarData[i] = 1.0
	}
	runningVar, err := tensor.New([]int{numFeatures}, runningVarData)
	if err != nil {
		return nil, fmt.Errorf("failed to create running variance tensor: %v", err)
	}

	return &BatchNorm{
		name:        name,
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		gamma:       NewParameter(name+".gamma", gamma),
		beta:        NewParameter(name+".beta", beta),
		runningMean: tensor.Zeros(numFeatures),
		runningVar:  runningVar,
		training:    true,
	}, nil
}

// FreezeStats disables running-statistics updates. Existing statistics and
// batch-statistics normalization are unaffected.
func (bn *BatchNorm) FreezeStats() {
	bn.statsFrozen = true
}

// UnfreezeStats re-enables running-statistics updates.
func (bn *BatchNorm) UnfreezeStats() {
	bn.statsFrozen = false
}

// StatsFrozen returns true if running-statistics updates are disabled.
func (bn *BatchNorm) StatsFrozen() bool {
	return bn.statsFrozen
}

// RunningStats returns the current running mean and variance tensors.
func (bn *BatchNorm) RunningStats() (*tensor.Tensor, *tensor.Tensor) {
	return bn.runningMean, bn.runningVar
}

// Forward performs batch normalization
func (bn *BatchNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("BatchNorm expects 2D input [batch_size, features], got shape %v", input.Shape)
	}

	features := input.Shape[1]
	if features != bn.numFeatures {
		return nil, fmt.Errorf("input features mismatch: expected %d, got %d", bn.numFeatures, features)
	}

	batchSize := input.Shape[0]

	var meanData, varData []float32

	if bn.training {
		meanData = make([]float32, features)
		varData = make([]float32, features)

		for j := 0; j < features; j++ {
			var sum float32
			for i := 0; i < batchSize; i++ {
				sum += input.Data[i*features+j]
			}
			meanData[j] = sum / float32(batchSize)
		}

		for j := 0; j < features; j++ {
			var sumSq float32
			for i := 0; i < batchSize; i++ {
				diff := input.Data[i*features+j] - meanData[j]
				sumSq += diff * diff
			}
			varData[j] = sumSq / float32(batchSize)
		}

		if !bn.statsFrozen {
			for j := 0; j < features; j++ {
				bn.runningMean.Data[j] = (1.0-bn.momentum)*bn.runningMean.Data[j] + bn.momentum*meanData[j]
				bn.runningVar.Data[j] = (1.0-bn.momentum)*bn.runningVar.Data[j] + bn.momentum*varData[j]
			}
		}
	} else {
		meanData = bn.runningMean.Data
		varData = bn.runningVar.Data
	}

	invStd := make([]float32, features)
	for j := 0; j < features; j++ {
		invStd[j] = 1.0 / math32.Sqrt(varData[j]+bn.eps)
	}

	xhat := make([]float32, batchSize*features)
	out := make([]float32, batchSize*features)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < features; j++ {
			idx := i*features + j
			xhat[idx] = (input.Data[idx] - meanData[j]) * invStd[j]
			out[idx] = bn.gamma.Data.Data[j]*xhat[idx] + bn.beta.Data.Data[j]
		}
	}

	bn.xhat = xhat
	bn.invStd = invStd
	bn.batchSize = batchSize
	bn.usedBatch = bn.training

	return tensor.New(input.Shape, out)
}

// Backward accumulates dgamma and dbeta and returns the input gradient.
// When the forward pass normalized with batch statistics the gradient flows
// through the mean and variance as well.
func (bn *BatchNorm) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if bn.xhat == nil {
		return nil, fmt.Errorf("Backward called before Forward")
	}

	features := bn.numFeatures
	batchSize := bn.batchSize

	if len(gradOutput.Shape) != 2 || gradOutput.Shape[0] != batchSize || gradOutput.Shape[1] != features {
		return nil, fmt.Errorf("gradient shape mismatch: expected [%d %d], got %v", batchSize, features, gradOutput.Shape)
	}

	sumDy := make([]float32, features)
	sumDyXhat := make([]float32, features)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < features; j++ {
			idx := i*features + j
			sumDy[j] += gradOutput.Data[idx]
			sumDyXhat[j] += gradOutput.Data[idx] * bn.xhat[idx]
		}
	}

	for j := 0; j < features; j++ {
		bn.gamma.Grad.Data[j] += sumDyXhat[j]
		bn.beta.Grad.Data[j] += sumDy[j]
	}

	gradInput := make([]float32, batchSize*features)

	if bn.usedBatch {
		n := float32(batchSize)
		for i := 0; i < batchSize; i++ {
			for j := 0; j < features; j++ {
				idx := i*features + j
				gradInput[idx] = bn.gamma.Data.Data[j] * bn.invStd[j] / n *
					(n*gradOutput.Data[idx] - sumDy[j] - bn.xhat[idx]*sumDyXhat[j])
			}
		}
	} else {
		// Running statistics are constants in evaluation mode
		for i := 0; i < batchSize; i++ {
			for j := 0; j < features; j++ {
				idx := i*features + j
				gradInput[idx] = gradOutput.Data[idx] * bn.gamma.Data.Data[j] * bn.invStd[j]
			}
		}
	}

	return tensor.New(gradOutput.Shape, gradInput)
}

// Parameters returns the trainable parameters
func (bn *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{bn.gamma, bn.beta}
}

// State returns the named persistent tensors, including running statistics
func (bn *BatchNorm) State() []NamedTensor {
	return []NamedTensor{
		{Name: bn.gamma.Name, Tensor: bn.gamma.Data},
		{Name: bn.beta.Name, Tensor: bn.beta.Data},
		{Name: bn.name + ".running_mean", Tensor: bn.runningMean},
		{Name: bn.name + ".running_var", Tensor: bn.runningVar},
	}
}

// Train sets the module to training mode
func (bn *BatchNorm) Train() {
	bn.training = true
}

// Eval sets the module to evaluation mode
func (bn *BatchNorm) Eval() {
	bn.training = false
}

// IsTraining returns true if in training mode
func (bn *BatchNorm) IsTraining() bool {
	return bn.training
}
