package optim

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/tensor"
)

// ClipGradNorm rescales gradients so that their global L2 norm does not
// exceed maxNorm.
//
// The norm is taken over the gradients of trainable parameters:
//
//	total = sqrt(sum_p ||g_p||²)
//	scale = maxNorm / max(total, maxNorm)
//
// Every trainable gradient is multiplied in place by scale, so it is 1 when
// total <= maxNorm (including total == 0). Frozen parameters and parameters
// without a gradient are ignored. Returns total as measured before clipping.
//
// Panics if maxNorm is not positive.
func ClipGradNorm[B tensor.Backend](params []*nn.Parameter[B], maxNorm float64) float64 {
	if !(maxNorm > 0) {
		panic(fmt.Sprintf("clip grad norm: max norm must be positive, got %g", maxNorm))
	}

	total := GradNorm(params)
	scale := maxNorm / math.Max(total, maxNorm)
	if scale == 1 {
		return total
	}

	klog.V(2).Infof("clip grad norm: total %.6g > %.6g, scaling by %.6g", total, maxNorm, scale)
	s := float32(scale)
	for _, p := range params {
		if !active(p) {
			continue
		}
		grad := p.Grad().Data()
		for i := range grad {
			grad[i] *= s
		}
	}
	return total
}

// GradNorm returns the global L2 norm of the trainable gradients without
// modifying them.
func GradNorm[B tensor.Backend](params []*nn.Parameter[B]) float64 {
	var sumSq float64
	for _, p := range params {
		if !active(p) {
			continue
		}
		for _, g := range p.Grad().Data() {
			sumSq += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sumSq)
}
