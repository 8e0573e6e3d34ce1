package training

import (
	"math"
	"testing"
)

func TestWarmupCosineSchedulerWarmupPhase(t *testing.T) {
	scheduler := NewWarmupCosineScheduler(10, 100, 0.0)
	baseLR := 0.1

	// Linear ramp during warmup
	prev := 0.0
	for it := 0; it < 10; it++ {
		lr := scheduler.GetLR(it, baseLR)
		if lr <= prev {
			t.Errorf("iteration %d: expected strictly increasing warmup LR, got %f after %f", it, lr, prev)
		}
		if lr > baseLR {
			t.Errorf("iteration %d: warmup LR %f exceeds base LR %f", it, lr, baseLR)
		}
		prev = lr
	}

	// Warmup completes at the base learning rate
	lr := scheduler.GetLR(9, baseLR)
	if math.Abs(lr-baseLR) > 1e-9 {
		t.Errorf("expected LR %f at end of warmup, got %f", baseLR, lr)
	}
}

func TestWarmupCosineSchedulerCosinePhase(t *testing.T) {
	scheduler := NewWarmupCosineScheduler(0, 100, 0.001)
	baseLR := 0.1

	tests := []struct {
		name string
		it   int
		want float64
	}{
		{"start of decay", 0, 0.1},
		{"midpoint", 50, 0.001 + (0.1-0.001)*0.5},
		{"end of decay", 100, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scheduler.GetLR(tt.it, baseLR)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("GetLR(%d) = %f, expected %f", tt.it, got, tt.want)
			}
		})
	}
}

func TestWarmupCosineSchedulerIsStateless(t *testing.T) {
	scheduler := NewWarmupCosineScheduler(5, 100, 0.0)
	baseLR := 0.05

	// Same iteration always yields the same LR, regardless of query order
	first := scheduler.GetLR(42, baseLR)
	scheduler.GetLR(7, baseLR)
	scheduler.GetLR(99, baseLR)
	second := scheduler.GetLR(42, baseLR)

	if first != second {
		t.Errorf("scheduler is not a pure function of the iteration: %f vs %f", first, second)
	}
}

func TestConstantScheduler(t *testing.T) {
	scheduler := &ConstantScheduler{}

	for _, it := range []int{0, 1, 1000, 1 << 20} {
		if lr := scheduler.GetLR(it, 0.03); lr != 0.03 {
			t.Errorf("iteration %d: expected constant LR 0.03, got %f", it, lr)
		}
	}

	if scheduler.GetName() != "ConstantLR" {
		t.Errorf("unexpected scheduler name: %s", scheduler.GetName())
	}
}
