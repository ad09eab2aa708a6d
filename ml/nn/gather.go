// Package nn implements the compute kernels of the engine: embedding gather,
// RMS normalization, batched GEMM, rotary position embedding, softmax and the
// SwiGLU gated activation. Kernels operate on ml.Tensor views and compute in
// float32 whatever the storage dtype.
//
// MatMul and the mask/softmax pair tolerate arbitrary strided inputs; the
// remaining kernels document their layout requirements individually.
package nn

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/llamastream/llamastream/ml"
)

// Gather copies table rows selected by tokens: out[i,:] = table[tokens[i],:].
// out is [nt, d] and table [nvoc, d]; both need packed rows (last axis stride
// 1). The copy is bitwise, no dtype conversion happens.
func Gather(out, table *ml.Tensor, tokens []int32) {
	if out.Rank() != 2 || table.Rank() != 2 || out.Dim(1) != table.Dim(1) {
		panic(fmt.Errorf("nn: gather %s from %s: %w", out, table, ml.ErrShapeMismatch))
	}
	if out.Dim(0) != len(tokens) {
		panic(fmt.Errorf("nn: gather %d rows for %d tokens: %w", out.Dim(0), len(tokens), ml.ErrDimMismatch))
	}
	if out.Strides()[1] != 1 || table.Strides()[1] != 1 || out.DType() != table.DType() {
		panic(fmt.Errorf("nn: gather needs packed %s rows: %w", table.DType(), ml.ErrNotContiguous))
	}

	es := out.DType().Size()
	rowBytes := out.Dim(1) * es
	nvoc := table.Dim(0)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, tok := range tokens {
		if int(tok) < 0 || int(tok) >= nvoc {
			panic(fmt.Errorf("nn: gather token %d of %d: %w", tok, nvoc, ml.ErrOutOfRange))
		}
		g.Go(func() error {
			src := table.Elem(table.ElemOffset(int(tok), 0))
			dst := out.Elem(out.ElemOffset(i, 0))
			copy(dst[:rowBytes], src[:rowBytes])
			return nil
		})
	}
	g.Wait()
}
