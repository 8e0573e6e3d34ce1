package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		Model: []WeightTensor{
			{Name: "fc.weight", Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
			{Name: "fc.bias", Shape: []int{2}, Data: []float32{0.5, -0.5}},
		},
		EMAModel: []WeightTensor{
			{Name: "fc.weight", Shape: []int{2, 2}, Data: []float32{1.1, 2.1, 3.1, 4.1}},
			{Name: "fc.bias", Shape: []int{2}, Data: []float32{0.4, -0.4}},
		},
		Optimizer: &OptimizerState{
			Type: "SGD",
			Parameters: map[string]interface{}{
				"learning_rate": 0.03,
				"momentum":      0.9,
			},
			StateData: []OptimizerTensor{
				{Name: "momentum_0", Shape: []int{4}, Data: []float32{0.1, 0.2, 0.3, 0.4}, StateType: "momentum"},
			},
		},
		Scheduler: SchedulerState{Type: "WarmupCosine", BaseLR: 0.03, StepCount: 1234},
		Iteration: 1234,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_model.json")

	original := testCheckpoint()
	if err := Save(original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Iteration != original.Iteration {
		t.Errorf("iteration: expected %d, got %d", original.Iteration, loaded.Iteration)
	}
	if loaded.Scheduler.StepCount != original.Scheduler.StepCount {
		t.Errorf("scheduler step: expected %d, got %d", original.Scheduler.StepCount, loaded.Scheduler.StepCount)
	}
	if loaded.Scheduler.BaseLR != original.Scheduler.BaseLR {
		t.Errorf("scheduler base LR: expected %f, got %f", original.Scheduler.BaseLR, loaded.Scheduler.BaseLR)
	}

	if len(loaded.Model) != len(original.Model) {
		t.Fatalf("model weights: expected %d tensors, got %d", len(original.Model), len(loaded.Model))
	}
	for i, w := range original.Model {
		for j, v := range w.Data {
			if loaded.Model[i].Data[j] != v {
				t.Errorf("model weight %s[%d]: expected %f, got %f", w.Name, j, v, loaded.Model[i].Data[j])
			}
		}
	}

	if loaded.Optimizer == nil || loaded.Optimizer.Type != "SGD" {
		t.Fatalf("optimizer state not preserved: %+v", loaded.Optimizer)
	}
	if len(loaded.Optimizer.StateData) != 1 || loaded.Optimizer.StateData[0].Data[3] != 0.4 {
		t.Errorf("optimizer tensors not preserved: %+v", loaded.Optimizer.StateData)
	}

	if loaded.Metadata.Framework == "" {
		t.Error("metadata not populated on save")
	}
}

func TestSaveCreatesDirectoryAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run", "latest_model.json")

	if err := Save(testCheckpoint(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint file missing: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing checkpoint file")
	}
}

func TestPrefixMapping(t *testing.T) {
	weights := []WeightTensor{
		{Name: "fc.weight", Shape: []int{1}, Data: []float32{1}},
		{Name: "bn.gamma", Shape: []int{1}, Data: []float32{2}},
	}

	prefixed := AddPrefix(weights, ReplicaPrefix)
	if prefixed[0].Name != "module.fc.weight" || prefixed[1].Name != "module.bn.gamma" {
		t.Errorf("AddPrefix: got %q, %q", prefixed[0].Name, prefixed[1].Name)
	}

	// Original list must be untouched (pure mapping)
	if weights[0].Name != "fc.weight" {
		t.Errorf("AddPrefix mutated its input: %q", weights[0].Name)
	}

	// Adding twice must not double the prefix
	doubled := AddPrefix(prefixed, ReplicaPrefix)
	if doubled[0].Name != "module.fc.weight" {
		t.Errorf("AddPrefix doubled the prefix: %q", doubled[0].Name)
	}

	stripped := StripPrefix(prefixed, ReplicaPrefix)
	if stripped[0].Name != "fc.weight" || stripped[1].Name != "bn.gamma" {
		t.Errorf("StripPrefix: got %q, %q", stripped[0].Name, stripped[1].Name)
	}

	// Stripping unprefixed names is a no-op
	again := StripPrefix(stripped, ReplicaPrefix)
	if again[0].Name != "fc.weight" {
		t.Errorf("StripPrefix changed an unprefixed name: %q", again[0].Name)
	}
}

func TestExtractWeightsDeterministicOrder(t *testing.T) {
	a, _ := tensor.New([]int{2}, []float32{1, 2})
	b, _ := tensor.New([]int{1}, []float32{3})
	state := map[string]*tensor.Tensor{
		"z.weight": a,
		"a.bias":   b,
	}

	weights := ExtractWeights(state)
	if weights[0].Name != "a.bias" || weights[1].Name != "z.weight" {
		t.Errorf("expected name-sorted order, got %q, %q", weights[0].Name, weights[1].Name)
	}

	// Extracted data must be a copy
	weights[0].Data[0] = 99
	if b.Data[0] != 3 {
		t.Error("ExtractWeights aliased tensor data")
	}

	back, err := WeightMap(weights)
	if err != nil {
		t.Fatalf("WeightMap failed: %v", err)
	}
	if back["z.weight"].Data[1] != 2 {
		t.Errorf("WeightMap round trip: got %v", back["z.weight"].Data)
	}
}
