package training

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
)

// GradScaler implements dynamic loss scaling for reduced-precision
// training. Gradients are computed from a scaled loss to keep small values
// representable, unscaled before the optimizer step, and the step is
// skipped entirely when any gradient overflowed to a non-finite value.
type GradScaler struct {
	scale          float32
	growthFactor   float32
	backoffFactor  float32
	growthInterval int
	goodSteps      int
	enabled        bool
}

// GradScalerConfig holds configuration for the gradient scaler
type GradScalerConfig struct {
	InitScale      float32
	GrowthFactor   float32
	BackoffFactor  float32
	GrowthInterval int
}

// DefaultGradScalerConfig returns default gradient scaler configuration
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		InitScale:      65536.0,
		GrowthFactor:   2.0,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// NewGradScaler creates a gradient scaler. A disabled scaler passes values
// through unchanged and never skips steps.
func NewGradScaler(config GradScalerConfig, enabled bool) (*GradScaler, error) {
	if enabled {
		if config.InitScale <= 0 {
			return nil, fmt.Errorf("initial scale must be positive: %f", config.InitScale)
		}
		if config.GrowthFactor <= 1 {
			return nil, fmt.Errorf("growth factor must exceed 1: %f", config.GrowthFactor)
		}
		if config.BackoffFactor <= 0 || config.BackoffFactor >= 1 {
			return nil, fmt.Errorf("backoff factor must be in (0, 1): %f", config.BackoffFactor)
		}
		if config.GrowthInterval <= 0 {
			return nil, fmt.Errorf("growth interval must be positive: %d", config.GrowthInterval)
		}
	}

	return &GradScaler{
		scale:          config.InitScale,
		growthFactor:   config.GrowthFactor,
		backoffFactor:  config.BackoffFactor,
		growthInterval: config.GrowthInterval,
		enabled:        enabled,
	}, nil
}

// Enabled returns true if loss scaling is active
func (s *GradScaler) Enabled() bool {
	return s.enabled
}

// Scale returns the current loss scale, or 1 when disabled.
func (s *GradScaler) Scale() float32 {
	if !s.enabled {
		return 1.0
	}
	return s.scale
}

// UnscaleGradients divides every parameter gradient by the current scale
// and reports whether any gradient is non-finite. Callers must skip the
// optimizer step when it returns true.
func (s *GradScaler) UnscaleGradients(params []*layers.Parameter) bool {
	if !s.enabled {
		return false
	}

	foundInf := false
	invScale := 1.0 / s.scale
	for _, p := range params {
		for i, g := range p.Grad.Data {
			unscaled := g * invScale
			if math32.IsNaN(unscaled) || math32.IsInf(unscaled, 0) {
				foundInf = true
			}
			p.Grad.Data[i] = unscaled
		}
	}

	return foundInf
}

// Update adjusts the loss scale after a step: backoff on overflow,
// geometric growth after growthInterval consecutive clean steps.
func (s *GradScaler) Update(foundInf bool) {
	if !s.enabled {
		return
	}

	if foundInf {
		s.scale *= s.backoffFactor
		s.goodSteps = 0
		return
	}

	s.goodSteps++
	if s.goodSteps >= s.growthInterval {
		s.scale *= s.growthFactor
		s.goodSteps = 0
	}
}
