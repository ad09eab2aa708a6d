// reform.go - out-of-place copy between arbitrary strided layouts
package ml

import (
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Below this many prefix tiles the fan-out overhead outweighs the copy work.
const reformParallelCutoff = 32

// ReformTo copies the logical contents of t into dst, whatever the stride
// layouts of the two views. Shapes and dtypes must be identical.
//
// The trailing run of dimensions that is packed in both views is copied as a
// single block per tile; the remaining prefix index space is enumerated and,
// above a small cutoff, fanned out across the worker pool. Output tiles are
// disjoint so the fan-out needs no synchronization.
func (t *Tensor) ReformTo(dst *Tensor) {
	if !slices.Equal(t.shape, dst.shape) {
		panic(fmt.Errorf("ml: reform %s to %s: %w", t, dst, ErrShapeMismatch))
	}
	if t.dtype != dst.dtype {
		panic(fmt.Errorf("ml: reform %s to %s: %w", t, dst, ErrDimMismatch))
	}
	if t.Size() == 0 {
		return
	}

	r := len(t.shape)
	c := min(t.ContiguousLen(), dst.ContiguousLen())
	if c == r {
		copy(dst.Bytes(), t.Bytes())
		return
	}

	es := t.dtype.Size()
	prefix := t.shape[:r-c]
	tail := numElems(t.shape[r-c:]) * es
	idxStride := contiguousStrides(prefix)
	n := numElems(prefix)

	copyTile := func(i int) {
		so, do := t.offset, dst.offset
		for d := range prefix {
			k := i / idxStride[d] % prefix[d]
			so += k * t.stride[d]
			do += k * dst.stride[d]
		}
		so *= es
		do *= es
		copy(dst.data[do:do+tail], t.data[so:so+tail])
	}

	if n < reformParallelCutoff {
		for i := range n {
			copyTile(i)
		}
		return
	}

	workers := min(runtime.GOMAXPROCS(0), n)
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				copyTile(i)
			}
			return nil
		})
	}
	g.Wait()
}

// Clone copies t into a fresh contiguous tensor.
func (t *Tensor) Clone() *Tensor {
	dst := Zeros(t.dtype, t.shape...)
	t.ReformTo(dst)
	return dst
}
