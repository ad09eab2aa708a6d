// rope.go - rotary position embedding
package nn

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/llamastream/llamastream/ml"
)

// RoPE rotates channel pairs (2k, 2k+1) of x in place by the angle
// pos[t] · theta^(-2k/dh). x is [nt, heads, dh] with even dh; pos carries one
// absolute position per token. Any strides are accepted.
func RoPE(x *ml.Tensor, pos []int32, theta float32) {
	if x.Rank() != 3 {
		panic(fmt.Errorf("nn: rope %s: %w", x, ml.ErrRankMismatch))
	}
	nt, nh, dh := x.Dim(0), x.Dim(1), x.Dim(2)
	if nt != len(pos) || dh%2 != 0 {
		panic(fmt.Errorf("nn: rope %s with %d positions: %w", x, len(pos), ml.ErrDimMismatch))
	}

	half := dh / 2
	invFreq := make([]float32, half)
	for k := range half {
		invFreq[k] = math32.Pow(theta, -2*float32(k)/float32(dh))
	}

	for t := range nt {
		p := float32(pos[t])
		for h := range nh {
			for k := range half {
				angle := p * invFreq[k]
				sin, cos := math32.Sincos(angle)
				a := x.Float32At(t, h, 2*k)
				b := x.Float32At(t, h, 2*k+1)
				x.SetFloat32At(a*cos-b*sin, t, h, 2*k)
				x.SetFloat32At(a*sin+b*cos, t, h, 2*k+1)
			}
		}
	}
}
