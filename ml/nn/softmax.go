// softmax.go - numerically stable softmax and the causal mask
package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/llamastream/llamastream/ml"
)

// Softmax normalizes x in place along the last axis, subtracting the row
// maximum before exponentiating. Masked slots holding -Inf come out as zero.
// Any strides are accepted.
func Softmax(x *ml.Tensor) {
	if x.Rank() < 1 {
		panic(fmt.Errorf("nn: softmax %s: %w", x, ml.ErrRankMismatch))
	}
	d := x.Dim(x.Rank() - 1)
	lead := x.Shape()[:x.Rank()-1]
	row := make([]int, x.Rank())
	forEach(lead, func(ix []int) {
		copy(row, ix)
		maxv := math32.Inf(-1)
		for i := range d {
			row[len(row)-1] = i
			if v := x.Float32At(row...); v > maxv {
				maxv = v
			}
		}
		var sum float32
		for i := range d {
			row[len(row)-1] = i
			v := math32.Exp(x.Float32At(row...) - maxv)
			x.SetFloat32At(v, row...)
			sum += v
		}
		inv := 1 / sum
		for i := range d {
			row[len(row)-1] = i
			x.SetFloat32At(x.Float32At(row...)*inv, row...)
		}
	})
}

// CausalMask writes -Inf into the attention score slots a token may not see.
// scores is [..., L, S] where row t corresponds to absolute position past+t;
// slots with position greater than past+t are disallowed. Softmax then turns
// them into zero weight.
func CausalMask(scores *ml.Tensor, past int) {
	if scores.Rank() < 2 {
		panic(fmt.Errorf("nn: causal mask %s: %w", scores, ml.ErrRankMismatch))
	}
	l, s := scores.Dim(scores.Rank()-2), scores.Dim(scores.Rank()-1)
	neg := math32.Inf(-1)
	lead := scores.Shape()[:scores.Rank()-2]
	ix := make([]int, scores.Rank())
	forEach(lead, func(prefix []int) {
		copy(ix, prefix)
		for t := range l {
			ix[len(ix)-2] = t
			for j := past + t + 1; j < s; j++ {
				ix[len(ix)-1] = j
				scores.SetFloat32At(neg, ix...)
			}
		}
	})
}
