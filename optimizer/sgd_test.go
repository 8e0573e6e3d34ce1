package optimizer

import (
	"math"
	"testing"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

func makeParam(t *testing.T, name string, data, grad []float32) *layers.Parameter {
	t.Helper()
	dt, err := tensor.New([]int{len(data)}, data)
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	p := layers.NewParameter(name, dt)
	copy(p.Grad.Data, grad)
	return p
}

func TestSGDVanillaStep(t *testing.T) {
	p := makeParam(t, "w", []float32{1, 2}, []float32{0.5, -0.5})

	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1}, []*layers.Parameter{p})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	expected := []float32{0.95, 2.05}
	for i, v := range expected {
		if math.Abs(float64(p.Data.Data[i]-v)) > 1e-6 {
			t.Errorf("param %d: expected %f, got %f", i, v, p.Data.Data[i])
		}
	}

	if sgd.GetStepCount() != 1 {
		t.Errorf("step count: expected 1, got %d", sgd.GetStepCount())
	}
}

func TestSGDMomentumStep(t *testing.T) {
	p := makeParam(t, "w", []float32{1}, []float32{1})

	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []*layers.Parameter{p})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	// Step 1: buf = 1, w = 1 - 0.1*1 = 0.9
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(float64(p.Data.Data[0]-0.9)) > 1e-6 {
		t.Errorf("after step 1: expected 0.9, got %f", p.Data.Data[0])
	}

	// Step 2 with same grad: buf = 0.9*1 + 1 = 1.9, w = 0.9 - 0.19 = 0.71
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(float64(p.Data.Data[0]-0.71)) > 1e-6 {
		t.Errorf("after step 2: expected 0.71, got %f", p.Data.Data[0])
	}
}

func TestSGDNesterovStep(t *testing.T) {
	p := makeParam(t, "w", []float32{1}, []float32{1})

	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}, []*layers.Parameter{p})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	// buf = 1, g = 1 + 0.9*1 = 1.9, w = 1 - 0.19 = 0.81
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(float64(p.Data.Data[0]-0.81)) > 1e-6 {
		t.Errorf("expected 0.81, got %f", p.Data.Data[0])
	}
}

func TestSGDWeightDecay(t *testing.T) {
	p := makeParam(t, "w", []float32{2}, []float32{0})

	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1, WeightDecay: 0.5}, []*layers.Parameter{p})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	// g = 0 + 0.5*2 = 1, w = 2 - 0.1 = 1.9
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(float64(p.Data.Data[0]-1.9)) > 1e-6 {
		t.Errorf("expected 1.9, got %f", p.Data.Data[0])
	}
}

func TestSGDConfigValidation(t *testing.T) {
	p := makeParam(t, "w", []float32{1}, []float32{0})

	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"negative LR", SGDConfig{LearningRate: -0.1}},
		{"momentum above 1", SGDConfig{LearningRate: 0.1, Momentum: 1.5}},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}},
	}

	for _, tt := range tests {
		if _, err := NewSGD(tt.config, []*layers.Parameter{p}); err == nil {
			t.Errorf("%s: expected config validation error", tt.name)
		}
	}

	if _, err := NewSGD(DefaultSGDConfig(), nil); err == nil {
		t.Error("expected error for empty parameter list")
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	p1 := makeParam(t, "w1", []float32{1, 2}, []float32{1, 1})
	p2 := makeParam(t, "w2", []float32{3}, []float32{1})
	params := []*layers.Parameter{p1, p2}

	sgd, err := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9, WeightDecay: 0.01, Nesterov: true}, params)
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	// Fresh optimizer over parameters with the same shapes
	q1 := makeParam(t, "w1", []float32{0, 0}, []float32{0, 0})
	q2 := makeParam(t, "w2", []float32{0}, []float32{0})
	restored, err := NewSGD(SGDConfig{LearningRate: 0.5, Momentum: 0.9}, []*layers.Parameter{q1, q2})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if restored.GetStepCount() != 3 {
		t.Errorf("step count: expected 3, got %d", restored.GetStepCount())
	}
	if restored.GetLearningRate() != sgd.GetLearningRate() {
		t.Errorf("learning rate: expected %f, got %f", sgd.GetLearningRate(), restored.GetLearningRate())
	}
	if !restored.Nesterov {
		t.Error("nesterov flag not restored")
	}

	for i := range sgd.momentumBuffers {
		for j, v := range sgd.momentumBuffers[i] {
			if restored.momentumBuffers[i][j] != v {
				t.Errorf("momentum buffer %d[%d]: expected %f, got %f", i, j, v, restored.momentumBuffers[i][j])
			}
		}
	}

	// Type mismatch must be rejected
	state.Type = "Adam"
	if err := restored.LoadState(state); err == nil {
		t.Error("expected error for mismatched state type")
	}
}

func TestClipGradNorm(t *testing.T) {
	p := makeParam(t, "w", []float32{0, 0}, []float32{3, 4})

	norm := ClipGradNorm([]*layers.Parameter{p}, 1.0)
	if math.Abs(float64(norm-5)) > 1e-5 {
		t.Errorf("pre-clip norm: expected 5, got %f", norm)
	}

	var clipped float64
	for _, g := range p.Grad.Data {
		clipped += float64(g) * float64(g)
	}
	if math.Sqrt(clipped) > 1.0+1e-4 {
		t.Errorf("post-clip norm exceeds threshold: %f", math.Sqrt(clipped))
	}

	// Non-positive threshold leaves gradients untouched
	q := makeParam(t, "w", []float32{0}, []float32{10})
	ClipGradNorm([]*layers.Parameter{q}, 0)
	if q.Grad.Data[0] != 10 {
		t.Errorf("clip with zero threshold modified gradient: %f", q.Grad.Data[0])
	}
}
