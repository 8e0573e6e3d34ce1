package training

import (
	"fmt"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// EMA maintains an exponential-moving-average shadow copy of a model's
// trainable parameters. The shadow is never gradient-updated; it is only
// mutated through Register, Update, and Load. ApplyShadow/Restore swap the
// shadow values in and out of the live model for evaluation.
type EMA struct {
	model   layers.Module
	decay   float32
	shadow  map[string][]float32
	backup  map[string][]float32
	applied bool
}

// NewEMA creates an EMA tracker for the given model. The decay must lie in
// (0, 1); values close to 1 average over a longer history.
func NewEMA(model layers.Module, decay float32) (*EMA, error) {
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("EMA decay must be in (0, 1), got %f", decay)
	}
	return &EMA{
		model: model,
		decay: decay,
	}, nil
}

// Register snapshots the current parameter values as the initial shadow
// state. Must be called before Update, ApplyShadow, or Load.
func (e *EMA) Register() {
	e.shadow = make(map[string][]float32)
	for _, p := range e.model.Parameters() {
		values := make([]float32, len(p.Data.Data))
		copy(values, p.Data.Data)
		e.shadow[p.Name] = values
	}
}

// Update recomputes each shadow parameter as
// shadow = decay*shadow + (1-decay)*live. Called once per training step,
// after the optimizer step that produced the new live weights.
func (e *EMA) Update() error {
	if e.shadow == nil {
		return fmt.Errorf("EMA not registered")
	}

	for _, p := range e.model.Parameters() {
		shadow, ok := e.shadow[p.Name]
		if !ok {
			return fmt.Errorf("no shadow value for parameter %q", p.Name)
		}
		for i, live := range p.Data.Data {
			shadow[i] = e.decay*shadow[i] + (1.0-e.decay)*live
		}
	}

	return nil
}

// ApplyShadow swaps the live model's parameters for the shadow values.
// Must be paired with Restore before training resumes.
func (e *EMA) ApplyShadow() error {
	if e.shadow == nil {
		return fmt.Errorf("EMA not registered")
	}
	if e.applied {
		return fmt.Errorf("shadow already applied")
	}

	e.backup = make(map[string][]float32)
	for _, p := range e.model.Parameters() {
		shadow, ok := e.shadow[p.Name]
		if !ok {
			return fmt.Errorf("no shadow value for parameter %q", p.Name)
		}

		backup := make([]float32, len(p.Data.Data))
		copy(backup, p.Data.Data)
		e.backup[p.Name] = backup

		copy(p.Data.Data, shadow)
	}

	e.applied = true
	return nil
}

// Restore swaps the original parameter values back into the live model.
func (e *EMA) Restore() error {
	if !e.applied {
		return fmt.Errorf("shadow not applied")
	}

	for _, p := range e.model.Parameters() {
		backup, ok := e.backup[p.Name]
		if !ok {
			return fmt.Errorf("no backup value for parameter %q", p.Name)
		}
		copy(p.Data.Data, backup)
	}

	e.backup = nil
	e.applied = false
	return nil
}

// WithShadow runs fn with the shadow weights applied to the live model and
// guarantees restoration on every exit path, including an error from fn.
func (e *EMA) WithShadow(fn func() error) error {
	if err := e.ApplyShadow(); err != nil {
		return err
	}
	defer e.Restore()

	return fn()
}

// Load seeds the shadow from an externally supplied parameter state, keyed
// by parameter name. Used on resume to continue a saved EMA trajectory.
func (e *EMA) Load(state map[string]*tensor.Tensor) error {
	if e.shadow == nil {
		return fmt.Errorf("EMA not registered")
	}

	for _, p := range e.model.Parameters() {
		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("no value for parameter %q", p.Name)
		}
		if src.NumElems != len(e.shadow[p.Name]) {
			return fmt.Errorf("size mismatch for parameter %q: expected %d, got %d",
				p.Name, len(e.shadow[p.Name]), src.NumElems)
		}
		copy(e.shadow[p.Name], src.Data)
	}

	return nil
}

// Shadow returns a copy of the current shadow values keyed by parameter
// name.
func (e *EMA) Shadow() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(e.shadow))
	for _, p := range e.model.Parameters() {
		shadow, ok := e.shadow[p.Name]
		if !ok {
			continue
		}
		data := make([]float32, len(shadow))
		copy(data, shadow)
		t, err := tensor.New(p.Data.Shape, data)
		if err != nil {
			continue
		}
		out[p.Name] = t
	}
	return out
}
