package training

import (
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
)

// BNController toggles whether normalization layers update their running
// statistics. Freezing before the unlabeled forward passes of a step keeps
// batches with an unknown class distribution from skewing the shared
// statistics, while the labeled pass still updates them.
type BNController struct{}

// NewBNController creates a new batch-normalization statistics controller
func NewBNController() *BNController {
	return &BNController{}
}

// container is satisfied by modules that hold child modules.
type container interface {
	Modules() []layers.Module
}

// FreezeBN disables running-statistics updates for every normalization
// layer reachable from m. Existing statistics remain in use.
func (c *BNController) FreezeBN(m layers.Module) {
	c.walk(m, func(bn *layers.BatchNorm) {
		bn.FreezeStats()
	})
}

// UnfreezeBN re-enables running-statistics updates for every normalization
// layer reachable from m.
func (c *BNController) UnfreezeBN(m layers.Module) {
	c.walk(m, func(bn *layers.BatchNorm) {
		bn.UnfreezeStats()
	})
}

// WithFrozenBN runs fn with statistics updates disabled and guarantees they
// are re-enabled on every exit path, including an error from fn.
func (c *BNController) WithFrozenBN(m layers.Module, fn func() error) error {
	c.FreezeBN(m)
	defer c.UnfreezeBN(m)

	return fn()
}

func (c *BNController) walk(m layers.Module, visit func(*layers.BatchNorm)) {
	if bn, ok := m.(*layers.BatchNorm); ok {
		visit(bn)
	}
	if parent, ok := m.(container); ok {
		for _, child := range parent.Modules() {
			c.walk(child, visit)
		}
	}
}
