// matmul.go - batched strided GEMM
package nn

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/llamastream/llamastream/ml"
)

// Work below this many multiply-adds is not worth fanning out.
const matMulParallelCutoff = 1 << 14

// MatMul computes c = alpha·a·b + beta·c. The trailing two axes are the
// matrix dimensions; all leading axes broadcast against c's leading axes
// (missing or size-1 axes repeat). Inputs may be arbitrarily strided,
// including zero strides from Broadcast views. With beta == 0 the prior
// contents of c are ignored, not read.
func MatMul(c *ml.Tensor, beta float32, a, b *ml.Tensor, alpha float32) {
	if c.Rank() < 2 || a.Rank() < 2 || b.Rank() < 2 {
		panic(fmt.Errorf("nn: mat_mul c=%s a=%s b=%s: %w", c, a, b, ml.ErrRankMismatch))
	}
	m, n := c.Dim(c.Rank()-2), c.Dim(c.Rank()-1)
	k := a.Dim(a.Rank() - 1)
	if a.Dim(a.Rank()-2) != m || b.Dim(b.Rank()-2) != k || b.Dim(b.Rank()-1) != n {
		panic(fmt.Errorf("nn: mat_mul c=%s a=%s b=%s: %w", c, a, b, ml.ErrDimMismatch))
	}

	batch := c.Shape()[:c.Rank()-2]
	a = alignBatch(a, batch)
	b = alignBatch(b, batch)

	lead := len(batch)
	sam, sak := a.Strides()[lead], a.Strides()[lead+1]
	sbk, sbn := b.Strides()[lead], b.Strides()[lead+1]
	scm, scn := c.Strides()[lead], c.Strides()[lead+1]
	adt, bdt, cdt := a.DType(), b.DType(), c.DType()

	idxStride := make([]int, lead)
	mul := 1
	for i := lead - 1; i >= 0; i-- {
		idxStride[i] = mul
		mul *= batch[i]
	}
	nb := mul

	// One task is one output row (bi, i).
	row := func(r int) {
		bi, i := r/m, r%m
		aOff, bOff, cOff := a.Offset(), b.Offset(), c.Offset()
		for d := range lead {
			x := bi / idxStride[d] % batch[d]
			aOff += x * a.Strides()[d]
			bOff += x * b.Strides()[d]
			cOff += x * c.Strides()[d]
		}
		acc := make([]float32, n)
		for p := range k {
			av := adt.Float32(a.Elem(aOff + i*sam + p*sak))
			boff := bOff + p*sbk
			for j := range n {
				acc[j] += av * bdt.Float32(b.Elem(boff+j*sbn))
			}
		}
		for j := range n {
			off := cOff + i*scm + j*scn
			v := alpha * acc[j]
			if beta != 0 {
				v += beta * cdt.Float32(c.Elem(off))
			}
			cdt.PutFloat32(c.Elem(off), v)
		}
	}

	rows := nb * m
	if rows*n*k < matMulParallelCutoff {
		for r := range rows {
			row(r)
		}
		return
	}

	workers := min(runtime.GOMAXPROCS(0), rows)
	chunk := (rows + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < rows; lo += chunk {
		hi := min(lo+chunk, rows)
		g.Go(func() error {
			for r := lo; r < hi; r++ {
				row(r)
			}
			return nil
		})
	}
	g.Wait()
}

// alignBatch views t with its leading axes broadcast to batch.
func alignBatch(t *ml.Tensor, batch []int) *ml.Tensor {
	lead := t.Rank() - 2
	if lead < len(batch) {
		shape := make([]int, 0, len(batch)+2)
		for range len(batch) - lead {
			shape = append(shape, 1)
		}
		shape = append(shape, t.Shape()...)
		t = t.Reshape(shape...)
	} else if lead > len(batch) {
		panic(fmt.Errorf("nn: mat_mul operand %s exceeds output rank: %w", t, ml.ErrRankMismatch))
	}
	for i, d := range batch {
		switch t.Dim(i) {
		case d:
		case 1:
			t = t.Broadcast(i, d)
		default:
			panic(fmt.Errorf("nn: mat_mul operand %s does not broadcast to %v: %w", t, batch, ml.ErrDimMismatch))
		}
	}
	return t
}
