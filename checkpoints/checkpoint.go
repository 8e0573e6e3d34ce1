package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Checkpoint represents a complete training state snapshot: live model
// weights, EMA shadow weights, optimizer state, scheduler state, and the
// iteration counter. All five fields are taken at the same iteration
// boundary.
type Checkpoint struct {
	Model     []WeightTensor  `json:"model"`
	EMAModel  []WeightTensor  `json:"ema_model"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	Scheduler SchedulerState  `json:"scheduler"`
	Iteration int             `json:"it"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum buffers, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", etc.
}

// SchedulerState captures the learning-rate schedule position
type SchedulerState struct {
	Type      string  `json:"type"`
	BaseLR    float64 `json:"base_lr"`
	StepCount int     `json:"step_count"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Save writes a checkpoint as a single JSON document. The file is written
// to a temporary path and renamed, so a crash mid-write never leaves a
// truncated checkpoint behind.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "ssl-fer"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(checkpoint); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint file: %v", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize checkpoint file: %v", err)
	}

	return nil
}

// Load reads a checkpoint from a JSON document.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights converts a name-keyed state map into a deterministic,
// name-sorted weight list for serialization.
func ExtractWeights(state map[string]*tensor.Tensor) []WeightTensor {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		t := state[name]
		shape := make([]int, len(t.Shape))
		copy(shape, t.Shape)
		data := make([]float32, len(t.Data))
		copy(data, t.Data)
		weights = append(weights, WeightTensor{Name: name, Shape: shape, Data: data})
	}

	return weights
}

// WeightMap converts a weight list back into a name-keyed state map.
func WeightMap(weights []WeightTensor) (map[string]*tensor.Tensor, error) {
	state := make(map[string]*tensor.Tensor, len(weights))
	for _, w := range weights {
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid weight tensor %q: %v", w.Name, err)
		}
		state[w.Name] = t
	}
	return state, nil
}
