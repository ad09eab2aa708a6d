// activation.go - gated activation
package nn

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"

	"github.com/llamastream/llamastream/ml"
)

// SwiGLU computes gate = silu(gate) · up element-wise, in place on gate.
// Shapes must be equal; any strides are accepted.
func SwiGLU(gate, up *ml.Tensor) {
	if !slices.Equal(gate.Shape(), up.Shape()) {
		panic(fmt.Errorf("nn: swiglu gate=%s up=%s: %w", gate, up, ml.ErrShapeMismatch))
	}
	forEach(gate.Shape(), func(ix []int) {
		a := gate.Float32At(ix...)
		b := up.Float32At(ix...)
		silu := a / (1 + math32.Exp(-a))
		gate.SetFloat32At(silu*b, ix...)
	})
}
