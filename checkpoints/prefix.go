package checkpoints

import (
	"strings"
)

// ReplicaPrefix is the parameter-name prefix a replicated (multi-process)
// model adds in front of every parameter. Checkpoints written from a
// replicated model carry it; single-device models do not.
const ReplicaPrefix = "module."

// AddPrefix returns a copy of the weight list with prefix prepended to
// every parameter name. Weights that already carry the prefix are left
// unchanged.
func AddPrefix(weights []WeightTensor, prefix string) []WeightTensor {
	out := make([]WeightTensor, len(weights))
	for i, w := range weights {
		out[i] = w
		if !strings.HasPrefix(w.Name, prefix) {
			out[i].Name = prefix + w.Name
		}
	}
	return out
}

// StripPrefix returns a copy of the weight list with prefix removed from
// every parameter name that carries it.
func StripPrefix(weights []WeightTensor, prefix string) []WeightTensor {
	out := make([]WeightTensor, len(weights))
	for i, w := range weights {
		out[i] = w
		out[i].Name = strings.TrimPrefix(w.Name, prefix)
	}
	return out
}
