package training

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the iteration counter, so the schedule
// position is fully recoverable from a restored counter.
type LRScheduler interface {
	// GetLR returns the learning rate for the given training iteration.
	// This is a pure function - no state modifications
	GetLR(it int, baseLR float64) float64

	// GetName returns the scheduler name for logging and checkpoints
	GetName() string
}

// WarmupCosineScheduler ramps the learning rate linearly over WarmupIters,
// then anneals it to EtaMin with a half cosine over the remaining budget.
type WarmupCosineScheduler struct {
	WarmupIters int     // Iterations of linear LR ramp from 0
	TotalIters  int     // Total training iteration budget
	EtaMin      float64 // Final learning rate
}

// NewWarmupCosineScheduler creates a warmup-then-cosine-annealing scheduler
func NewWarmupCosineScheduler(warmupIters, totalIters int, etaMin float64) *WarmupCosineScheduler {
	if totalIters <= 0 {
		totalIters = 1
	}
	if warmupIters < 0 {
		warmupIters = 0
	}
	if warmupIters > totalIters {
		warmupIters = totalIters
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &WarmupCosineScheduler{
		WarmupIters: warmupIters,
		TotalIters:  totalIters,
		EtaMin:      etaMin,
	}
}

func (s *WarmupCosineScheduler) GetLR(it int, baseLR float64) float64 {
	if it < s.WarmupIters {
		return baseLR * float64(it+1) / float64(s.WarmupIters)
	}
	if it >= s.TotalIters {
		return s.EtaMin
	}

	progress := float64(it-s.WarmupIters) / float64(s.TotalIters-s.WarmupIters)
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*progress))/2
}

func (s *WarmupCosineScheduler) GetName() string {
	return "WarmupCosine"
}

// ConstantScheduler maintains a constant learning rate
type ConstantScheduler struct{}

func (s *ConstantScheduler) GetLR(it int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantScheduler) GetName() string {
	return "ConstantLR"
}
