package optimizer

import (
	"fmt"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/checkpoints"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
)

// SGDConfig holds configuration for the SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.03,
		Momentum:     0.9,
		WeightDecay:  5e-4,
		Nesterov:     true,
	}
}

// SGD implements stochastic gradient descent with optional momentum,
// Nesterov acceleration, and decoupled-from-loss L2 weight decay applied
// to the gradient.
type SGD struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool

	params          []*layers.Parameter
	momentumBuffers [][]float32 // one buffer per parameter (only if momentum > 0)
	stepCount       uint64
}

// NewSGD creates an SGD optimizer bound to the given parameters.
func NewSGD(config SGDConfig, params []*layers.Parameter) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum must be in [0, 1]: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("Nesterov momentum requires momentum > 0")
	}

	sgd := &SGD{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	if config.Momentum > 0 {
		sgd.momentumBuffers = make([][]float32, len(params))
		for i, p := range params {
			sgd.momentumBuffers[i] = make([]float32, p.Data.NumElems)
		}
	}

	return sgd, nil
}

// Step applies one SGD update to every bound parameter.
func (sgd *SGD) Step() error {
	for i, p := range sgd.params {
		if p.Grad.NumElems != p.Data.NumElems {
			return fmt.Errorf("gradient size mismatch for %q: %d vs %d", p.Name, p.Grad.NumElems, p.Data.NumElems)
		}

		for j := range p.Data.Data {
			g := p.Grad.Data[j]
			if sgd.WeightDecay > 0 {
				g += sgd.WeightDecay * p.Data.Data[j]
			}

			if sgd.Momentum > 0 {
				buf := sgd.momentumBuffers[i]
				buf[j] = sgd.Momentum*buf[j] + g
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}

			p.Data.Data[j] -= sgd.LearningRate * g
		}
	}

	sgd.stepCount++
	return nil
}

// ZeroGrad resets all parameter gradients to zero
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": float64(sgd.LearningRate),
			"momentum":      float64(sgd.Momentum),
			"weight_decay":  float64(sgd.WeightDecay),
			"nesterov":      sgd.Nesterov,
			"step_count":    float64(sgd.stepCount),
		},
	}

	for i, buf := range sgd.momentumBuffers {
		data := make([]float32, len(buf))
		copy(data, buf)
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("momentum_%d", i),
			Shape:     []int{len(data)},
			Data:      data,
			StateType: "momentum",
		})
	}

	return state, nil
}

// LoadState restores optimizer state from a checkpoint
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", sgd.stepCount)

	if sgd.Momentum > 0 && sgd.momentumBuffers == nil {
		sgd.momentumBuffers = make([][]float32, len(sgd.params))
		for i, p := range sgd.params {
			sgd.momentumBuffers[i] = make([]float32, p.Data.NumElems)
		}
	}

	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			continue
		}
		var idx int
		if n, err := fmt.Sscanf(st.Name, "momentum_%d", &idx); n != 1 || err != nil {
			return fmt.Errorf("unrecognized state tensor name: %q", st.Name)
		}
		if idx < 0 || idx >= len(sgd.momentumBuffers) {
			return fmt.Errorf("state tensor index out of range: %q", st.Name)
		}
		if len(st.Data) != len(sgd.momentumBuffers[idx]) {
			return fmt.Errorf("momentum buffer size mismatch for %q: expected %d, got %d",
				st.Name, len(sgd.momentumBuffers[idx]), len(st.Data))
		}
		copy(sgd.momentumBuffers[idx], st.Data)
	}

	return nil
}

// GetStepCount returns the current optimization step number
func (sgd *SGD) GetStepCount() uint64 {
	return sgd.stepCount
}

// UpdateLearningRate updates the learning rate
func (sgd *SGD) UpdateLearningRate(lr float32) {
	sgd.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (sgd *SGD) GetLearningRate() float32 {
	return sgd.LearningRate
}
