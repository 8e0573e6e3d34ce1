package layers

import (
	"errors"
	"fmt"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// ErrNameMismatch indicates that a state map does not carry the parameter
// names the target model expects. Callers can recover by remapping names
// and retrying.
var ErrNameMismatch = errors.New("state name mismatch")

// StateMap collects a module's persistent tensors keyed by name.
func StateMap(m Module) map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, nt := range m.State() {
		state[nt.Name] = nt.Tensor
	}
	return state
}

// CloneStateMap returns a deep copy of a module's persistent tensors keyed
// by name, safe to hold across further training steps.
func CloneStateMap(m Module) map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, nt := range m.State() {
		state[nt.Name] = nt.Tensor.Clone()
	}
	return state
}

// LoadState copies values from a name-keyed state map into the module's
// persistent tensors. Every tensor the module owns must be present in the
// map with a matching shape; a missing name yields ErrNameMismatch.
func LoadState(m Module, state map[string]*tensor.Tensor) error {
	for _, nt := range m.State() {
		src, ok := state[nt.Name]
		if !ok {
			return fmt.Errorf("%w: no value for %q", ErrNameMismatch, nt.Name)
		}
		if err := nt.Tensor.CopyFrom(src); err != nil {
			return fmt.Errorf("failed to load %q: %v", nt.Name, err)
		}
	}
	return nil
}
