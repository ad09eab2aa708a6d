// norm.go - RMS layer normalization
package nn

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"

	"github.com/llamastream/llamastream/ml"
)

// forEach enumerates all index tuples of shape in row-major order, reusing a
// single tuple buffer.
func forEach(shape []int, f func(ix []int)) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n == 0 {
		return
	}
	ix := make([]int, len(shape))
	for range n {
		f(ix)
		for d := len(ix) - 1; d >= 0; d-- {
			ix[d]++
			if ix[d] < shape[d] {
				break
			}
			ix[d] = 0
		}
	}
}

// RMSNorm computes y = x · w / sqrt(mean(x²) + eps) over the last axis.
// y and x must have equal shapes; w is [d] where d is the last axis length.
// y may alias x: the reduction over a row settles before any slot of that
// row is written, and each element is re-read before its own write.
func RMSNorm(y, x, w *ml.Tensor, eps float32) {
	if !slices.Equal(y.Shape(), x.Shape()) || y.Rank() < 1 {
		panic(fmt.Errorf("nn: rms_norm y=%s x=%s: %w", y, x, ml.ErrShapeMismatch))
	}
	d := x.Dim(x.Rank() - 1)
	if w.Rank() != 1 || w.Dim(0) != d {
		panic(fmt.Errorf("nn: rms_norm weight %s for %s: %w", w, x, ml.ErrDimMismatch))
	}

	lead := x.Shape()[:x.Rank()-1]
	row := make([]int, x.Rank())
	forEach(lead, func(ix []int) {
		copy(row, ix)
		var ss float32
		for i := range d {
			row[len(row)-1] = i
			v := x.Float32At(row...)
			ss += v * v
		}
		scale := 1 / math32.Sqrt(ss/float32(d)+eps)
		for i := range d {
			row[len(row)-1] = i
			v := x.Float32At(row...) * w.Float32At(i) * scale
			y.SetFloat32At(v, row...)
		}
	})
}
