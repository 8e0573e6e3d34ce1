package optimizer

import (
	"github.com/chewxy/math32"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
)

// ClipGradNorm rescales all parameter gradients so their combined L2 norm
// does not exceed maxNorm, and returns the pre-clip norm. A non-positive
// maxNorm leaves the gradients untouched.
func ClipGradNorm(params []*layers.Parameter, maxNorm float32) float32 {
	var sumSq float32
	for _, p := range params {
		for _, g := range p.Grad.Data {
			sumSq += g * g
		}
	}
	totalNorm := math32.Sqrt(sumSq)

	if maxNorm <= 0 {
		return totalNorm
	}

	if totalNorm > maxNorm {
		scale := maxNorm / (totalNorm + 1e-6)
		for _, p := range params {
			for i := range p.Grad.Data {
				p.Grad.Data[i] *= scale
			}
		}
	}

	return totalNorm
}
