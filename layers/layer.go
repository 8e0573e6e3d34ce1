package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named trainable tensor with its gradient accumulator.
type Parameter struct {
	Name string
	Data *tensor.Tensor
	Grad *tensor.Tensor
}

// NewParameter creates a parameter with a zero-initialized gradient of the
// same shape as the data.
func NewParameter(name string, data *tensor.Tensor) *Parameter {
	return &Parameter{
		Name: name,
		Data: data,
		Grad: tensor.Zeros(data.Shape...),
	}
}

// ZeroGrad resets the gradient accumulator to zero.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad.Data {
		p.Grad.Data[i] = 0
	}
}

// NamedTensor pairs a persistent tensor with its name for serialization.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// Module interface defines methods that all neural network layers must implement.
// Forward caches whatever the layer needs for the matching Backward call;
// Backward accumulates parameter gradients and returns the input gradient.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter // Returns trainable parameters
	State() []NamedTensor     // Returns all persistent tensors (parameters and buffers)
	Train()                   // Sets module to training mode
	Eval()                    // Sets module to evaluation mode
	IsTraining() bool         // Returns true if in training mode
}

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	name     string
	weight   *Parameter
	bias     *Parameter
	input    *tensor.Tensor // cached for Backward
	training bool
}

// NewLinear creates a new Linear layer. Weights use Xavier/Glorot uniform
// initialization; bias, if enabled, starts at zero.
func NewLinear(name string, inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid layer sizes: %d -> %d", inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.New([]int{inputSize, outputSize}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}

	linear := &Linear{
		name:     name,
		weight:   NewParameter(name+".weight", weight),
		training: true,
	}

	if bias {
		biasT, err := tensor.New([]int{outputSize}, make([]float32, outputSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		linear.bias = NewParameter(name+".bias", biasT)
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}

	if input.Shape[1] != l.weight.Data.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Data.Shape[0], input.Shape[1])
	}

	output, err := tensor.MatMul(input, l.weight.Data)
	if err != nil {
		return nil, fmt.Errorf("matmul failed: %v", err)
	}

	if l.bias != nil {
		batchSize := output.Shape[0]
		outputSize := output.Shape[1]
		for i := 0; i < batchSize; i++ {
			for j := 0; j < outputSize; j++ {
				output.Data[i*outputSize+j] += l.bias.Data.Data[j]
			}
		}
	}

	l.input = input
	return output, nil
}

// Backward accumulates dW = x^T * dY and db = colsum(dY), and returns
// dX = dY * W^T.
func (l *Linear) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("Backward called before Forward")
	}

	batchSize := l.input.Shape[0]
	inputSize := l.weight.Data.Shape[0]
	outputSize := l.weight.Data.Shape[1]

	if len(gradOutput.Shape) != 2 || gradOutput.Shape[0] != batchSize || gradOutput.Shape[1] != outputSize {
		return nil, fmt.Errorf("gradient shape mismatch: expected [%d %d], got %v", batchSize, outputSize, gradOutput.Shape)
	}

	// dW += x^T * dY
	for p := 0; p < inputSize; p++ {
		for j := 0; j < outputSize; j++ {
			var sum float32
			for i := 0; i < batchSize; i++ {
				sum += l.input.Data[i*inputSize+p] * gradOutput.Data[i*outputSize+j]
			}
			l.weight.Grad.Data[p*outputSize+j] += sum
		}
	}

	// db += column sums of dY
	if l.bias != nil {
		for j := 0; j < outputSize; j++ {
			var sum float32
			for i := 0; i < batchSize; i++ {
				sum += gradOutput.Data[i*outputSize+j]
			}
			l.bias.Grad.Data[j] += sum
		}
	}

	// dX = dY * W^T
	gradInput := make([]float32, batchSize*inputSize)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < outputSize; j++ {
			gv := gradOutput.Data[i*outputSize+j]
			if gv == 0 {
				continue
			}
			for p := 0; p < inputSize; p++ {
				gradInput[i*inputSize+p] += gv * l.weight.Data.Data[p*outputSize+j]
			}
		}
	}

	return tensor.New([]int{batchSize, inputSize}, gradInput)
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*Parameter {
	params := []*Parameter{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// State returns the named persistent tensors
func (l *Linear) State() []NamedTensor {
	state := []NamedTensor{{Name: l.weight.Name, Tensor: l.weight.Data}}
	if l.bias != nil {
		state = append(state, NamedTensor{Name: l.bias.Name, Tensor: l.bias.Data})
	}
	return state
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// ReLU implements the ReLU activation function module
type ReLU struct {
	mask     []bool // cached activation mask for Backward
	training bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward performs ReLU activation
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := make([]float32, input.NumElems)
	mask := make([]bool, input.NumElems)

	for i, v := range input.Data {
		if v > 0 {
			out[i] = v
			mask[i] = true
		}
	}

	r.mask = mask
	return tensor.New(input.Shape, out)
}

// Backward zeroes gradients where the forward input was non-positive
func (r *ReLU) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if r.mask == nil {
		return nil, fmt.Errorf("Backward called before Forward")
	}
	if gradOutput.NumElems != len(r.mask) {
		return nil, fmt.Errorf("gradient size mismatch: expected %d elements, got %d", len(r.mask), gradOutput.NumElems)
	}

	out := make([]float32, gradOutput.NumElems)
	for i, pass := range r.mask {
		if pass {
			out[i] = gradOutput.Data[i]
		}
	}

	return tensor.New(gradOutput.Shape, out)
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLU) Parameters() []*Parameter {
	return []*Parameter{}
}

// State returns empty slice (ReLU has no persistent tensors)
func (r *ReLU) State() []NamedTensor {
	return []NamedTensor{}
}

// Train sets the module to training mode
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode
func (r *ReLU) Eval() {
	r.training = false
}

// IsTraining returns true if in training mode
func (r *ReLU) IsTraining() bool {
	return r.training
}

// Sequential allows chaining multiple modules together
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}

	return output, nil
}

// Backward propagates the gradient through all modules in reverse order
func (s *Sequential) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	grad := gradOutput
	var err error

	for i := len(s.modules) - 1; i >= 0; i-- {
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("module %d backward failed: %v", i, err)
		}
	}

	return grad, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() []*Parameter {
	var allParams []*Parameter
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

// State returns all persistent tensors from all modules
func (s *Sequential) State() []NamedTensor {
	var allState []NamedTensor
	for _, module := range s.modules {
		allState = append(allState, module.State()...)
	}
	return allState
}

// Modules returns the contained modules in order
func (s *Sequential) Modules() []Module {
	return s.modules
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}
