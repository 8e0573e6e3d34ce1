package layers

import (
	"math"
	"testing"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

func TestBatchNormForwardNormalizes(t *testing.T) {
	bn, err := NewBatchNorm("bn", 2, 0, 0)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}

	input, _ := tensor.New([]int{4, 2}, []float32{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})

	output, err := bn.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// With gamma=1 and beta=0 each output column must have ~zero mean and
	// ~unit variance.
	for j := 0; j < 2; j++ {
		var mean, variance float64
		for i := 0; i < 4; i++ {
			mean += float64(output.Data[i*2+j])
		}
		mean /= 4
		for i := 0; i < 4; i++ {
			d := float64(output.Data[i*2+j]) - mean
			variance += d * d
		}
		variance /= 4

		if math.Abs(mean) > 1e-5 {
			t.Errorf("column %d: expected zero mean, got %f", j, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("column %d: expected unit variance, got %f", j, variance)
		}
	}
}

func TestBatchNormRunningStatsUpdate(t *testing.T) {
	bn, err := NewBatchNorm("bn", 1, 1e-5, 0.1)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}

	input, _ := tensor.New([]int{2, 1}, []float32{2, 6})
	if _, err := bn.Forward(input); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	mean, variance := bn.RunningStats()

	// batch mean 4, batch var 4; running = 0.9*init + 0.1*batch
	if math.Abs(float64(mean.Data[0]-0.4)) > 1e-6 {
		t.Errorf("running mean: expected 0.4, got %f", mean.Data[0])
	}
	if math.Abs(float64(variance.Data[0]-1.3)) > 1e-6 {
		t.Errorf("running var: expected 1.3, got %f", variance.Data[0])
	}
}

func TestBatchNormFrozenStatsUnchanged(t *testing.T) {
	bn, err := NewBatchNorm("bn", 2, 0, 0)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}

	input, _ := tensor.New([]int{2, 2}, []float32{1, 2, 3, 4})

	meanBefore, varBefore := bn.RunningStats()
	meanSnapshot := meanBefore.Clone()
	varSnapshot := varBefore.Clone()

	bn.FreezeStats()
	for k := 0; k < 3; k++ {
		if _, err := bn.Forward(input); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
	}
	bn.UnfreezeStats()

	mean, variance := bn.RunningStats()
	for i := range mean.Data {
		if mean.Data[i] != meanSnapshot.Data[i] {
			t.Errorf("running mean changed while frozen: %v", mean.Data)
		}
		if variance.Data[i] != varSnapshot.Data[i] {
			t.Errorf("running var changed while frozen: %v", variance.Data)
		}
	}

	// Without freezing a forward pass must change the statistics
	if _, err := bn.Forward(input); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	changed := false
	for i := range mean.Data {
		if mean.Data[i] != meanSnapshot.Data[i] {
			changed = true
		}
	}
	if !changed {
		t.Error("running statistics did not change on an unfrozen forward pass")
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn, err := NewBatchNorm("bn", 1, 1e-5, 0.1)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}

	bn.Eval()
	// Running mean 0, var 1: output should be ~input
	input, _ := tensor.New([]int{2, 1}, []float32{0.5, -0.5})
	output, err := bn.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for i := range input.Data {
		if math.Abs(float64(output.Data[i]-input.Data[i])) > 1e-4 {
			t.Errorf("eval output %d: expected %f, got %f", i, input.Data[i], output.Data[i])
		}
	}

	// Eval forward must never touch running statistics
	mean, _ := bn.RunningStats()
	if mean.Data[0] != 0 {
		t.Errorf("eval forward modified running mean: %f", mean.Data[0])
	}
}

func TestBatchNormNumericalGradient(t *testing.T) {
	bn, err := NewBatchNorm("bn", 3, 1e-5, 0.1)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}
	// Freeze stats so repeated objective evaluations are side-effect free
	bn.FreezeStats()

	input, _ := tensor.New([]int{4, 3}, []float32{
		0.5, -1.2, 0.3,
		1.5, 0.7, -0.8,
		-0.3, 0.2, 1.1,
		0.9, -0.5, 0.4,
	})

	// Weighted-sum objective so mean/variance gradients are exercised
	weights := []float32{0.3, -0.7, 1.1, 0.2, 0.8, -0.4, 1.3, -0.9, 0.6, -1.1, 0.5, 0.7}

	objective := func() float32 {
		out, err := bn.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		var sum float32
		for i, v := range out.Data {
			sum += weights[i] * v
		}
		return sum
	}

	if _, err := bn.Forward(input); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	seed, _ := tensor.New([]int{4, 3}, weights)
	gradIn, err := bn.Backward(seed)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const h = 1e-2
	for i := range input.Data {
		orig := input.Data[i]
		input.Data[i] = orig + h
		plus := objective()
		input.Data[i] = orig - h
		minus := objective()
		input.Data[i] = orig

		numeric := (plus - minus) / (2 * h)
		analytic := gradIn.Data[i]
		if math.Abs(float64(numeric-analytic)) > 1e-3*(1+math.Abs(float64(numeric))) {
			t.Errorf("input grad %d: numeric %f vs analytic %f", i, numeric, analytic)
		}
	}

	for _, p := range bn.Parameters() {
		for i := range p.Data.Data {
			orig := p.Data.Data[i]
			p.Data.Data[i] = orig + h
			plus := objective()
			p.Data.Data[i] = orig - h
			minus := objective()
			p.Data.Data[i] = orig

			numeric := (plus - minus) / (2 * h)
			analytic := p.Grad.Data[i]
			if math.Abs(float64(numeric-analytic)) > 1e-3*(1+math.Abs(float64(numeric))) {
				t.Errorf("%s[%d]: numeric %f vs analytic %f", p.Name, i, numeric, analytic)
			}
		}
	}
}
