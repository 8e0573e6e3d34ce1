package training

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Mixer produces convex combinations of a batch with a random permutation
// of itself, regularizing between the batch and its shuffled counterpart.
type Mixer struct {
	// Alpha parameterizes the Beta(alpha, alpha) distribution the mixing
	// coefficient is drawn from. Alpha <= 0 disables mixing (lam = 1).
	Alpha float64

	// IsBias forces lam = max(lam, 1-lam), biasing the mix toward the
	// first operand.
	IsBias bool

	rng  *rand.Rand
	beta distuv.Beta
}

// NewMixer creates a mixup helper with its own seeded random source.
func NewMixer(alpha float64, isBias bool, seed uint64) *Mixer {
	src := rand.NewSource(seed)
	return &Mixer{
		Alpha:  alpha,
		IsBias: isBias,
		rng:    rand.New(src),
		beta:   distuv.Beta{Alpha: alpha, Beta: alpha, Src: src},
	}
}

// MixOneTarget mixes a batch with a shuffled version of itself:
// mixed_x = lam*x + (1-lam)*x[perm], mixed_y = lam*y + (1-lam)*y[perm],
// with lam ~ Beta(alpha, alpha). Targets must be dense [batch, num_classes]
// rows (one-hot or already-mixed distributions). Returns the mixed inputs,
// mixed targets, and the sampled lam.
func (m *Mixer) MixOneTarget(x, y *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, float64, error) {
	if len(x.Shape) != 2 || len(y.Shape) != 2 {
		return nil, nil, 0, fmt.Errorf("mixup requires 2D inputs and targets, got %v and %v", x.Shape, y.Shape)
	}
	if x.Shape[0] != y.Shape[0] {
		return nil, nil, 0, fmt.Errorf("batch size mismatch: inputs %d, targets %d", x.Shape[0], y.Shape[0])
	}

	lam := 1.0
	if m.Alpha > 0 {
		lam = m.beta.Rand()
	}
	if m.IsBias && 1-lam > lam {
		lam = 1 - lam
	}

	batchSize := x.Shape[0]
	perm := m.rng.Perm(batchSize)

	mixedX, err := mixRows(x, perm, float32(lam))
	if err != nil {
		return nil, nil, 0, err
	}
	mixedY, err := mixRows(y, perm, float32(lam))
	if err != nil {
		return nil, nil, 0, err
	}

	return mixedX, mixedY, lam, nil
}

// mixRows computes lam*t + (1-lam)*t[perm] row-wise.
func mixRows(t *tensor.Tensor, perm []int, lam float32) (*tensor.Tensor, error) {
	rows := t.Shape[0]
	cols := t.NumElems / rows

	out := make([]float32, t.NumElems)
	for i := 0; i < rows; i++ {
		p := perm[i]
		for j := 0; j < cols; j++ {
			out[i*cols+j] = lam*t.Data[i*cols+j] + (1-lam)*t.Data[p*cols+j]
		}
	}

	return tensor.New(t.Shape, out)
}
