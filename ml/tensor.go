// tensor.go - strided tensor views over byte buffers
//
// A Tensor is (dtype, shape, strides, offset, physical buffer). All view
// operations (Reshape, Transpose, Slice, Broadcast, Narrow, Split) derive a
// new view sharing the same physical buffer; only ReformTo moves bytes.
package ml

import (
	"fmt"
	"slices"
)

type Tensor struct {
	dtype  DType
	shape  []int
	stride []int
	offset int // in elements
	data   []byte
}

// New wraps data in a contiguous tensor of the given shape. The buffer must
// hold at least prod(shape) elements.
func New(dtype DType, shape []int, data []byte) *Tensor {
	t := &Tensor{
		dtype:  dtype,
		shape:  slices.Clone(shape),
		stride: contiguousStrides(shape),
		data:   data,
	}
	if t.BytesSize() > len(data) {
		panic(fmt.Errorf("ml: new tensor %v: buffer of %d bytes too small: %w", shape, len(data), ErrOutOfRange))
	}
	return t
}

// Zeros allocates a zero-initialized contiguous tensor.
func Zeros(dtype DType, shape ...int) *Tensor {
	return New(dtype, shape, make([]byte, numElems(shape)*dtype.Size()))
}

// FromFloats allocates a contiguous tensor and fills it with vs converted to
// dtype, in row-major order.
func FromFloats(dtype DType, vs []float32, shape ...int) *Tensor {
	if len(vs) != numElems(shape) {
		panic(fmt.Errorf("ml: %d values for shape %v: %w", len(vs), shape, ErrShapeMismatch))
	}
	t := Zeros(dtype, shape...)
	n := dtype.Size()
	for i, v := range vs {
		dtype.PutFloat32(t.data[i*n:], v)
	}
	return t
}

func contiguousStrides(shape []int) []int {
	stride := make([]int, len(shape))
	mul := 1
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = mul
		mul *= shape[i]
	}
	return stride
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) DType() DType   { return t.dtype }
func (t *Tensor) Shape() []int   { return t.shape }
func (t *Tensor) Strides() []int { return t.stride }
func (t *Tensor) Offset() int    { return t.offset }
func (t *Tensor) Rank() int      { return len(t.shape) }

// Dim returns the length of axis n.
func (t *Tensor) Dim(n int) int { return t.shape[n] }

// Size returns the number of logical elements.
func (t *Tensor) Size() int { return numElems(t.shape) }

// BytesSize returns the logical size in bytes.
func (t *Tensor) BytesSize() int { return t.Size() * t.dtype.Size() }

// BytesOffset returns the byte offset of the first logical element.
func (t *Tensor) BytesOffset() int { return t.offset * t.dtype.Size() }

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.dtype, t.shape)
}

// ContiguousLen counts the trailing dimensions whose strides match the
// canonical packed layout. Size-1 dimensions count whatever their stride;
// broadcast (zero-stride) dimensions of a larger size do not, so a reform
// never block-copies through a repeat.
func (t *Tensor) ContiguousLen() int {
	mul := 1
	n := 0
	for i := len(t.shape) - 1; i >= 0; i-- {
		if t.stride[i] != mul && t.shape[i] != 1 {
			break
		}
		mul *= t.shape[i]
		n++
	}
	return n
}

func (t *Tensor) IsContiguous() bool {
	return t.ContiguousLen() == len(t.shape)
}

// ElemOffset maps an index tuple to an absolute element offset into the
// physical buffer.
func (t *Tensor) ElemOffset(ix ...int) int {
	if len(ix) != len(t.shape) {
		panic(fmt.Errorf("ml: %d indices for rank %d: %w", len(ix), len(t.shape), ErrRankMismatch))
	}
	off := t.offset
	for i, x := range ix {
		off += x * t.stride[i]
	}
	return off
}

// Elem returns the buffer starting at absolute element offset off.
func (t *Tensor) Elem(off int) []byte {
	return t.data[off*t.dtype.Size():]
}

// Float32At reads the element at the given index tuple as float32.
func (t *Tensor) Float32At(ix ...int) float32 {
	return t.dtype.Float32(t.Elem(t.ElemOffset(ix...)))
}

// SetFloat32At writes the element at the given index tuple.
func (t *Tensor) SetFloat32At(v float32, ix ...int) {
	t.dtype.PutFloat32(t.Elem(t.ElemOffset(ix...)), v)
}

// Bytes returns the logical contents as a byte slice. The tensor must be
// fully contiguous.
func (t *Tensor) Bytes() []byte {
	if !t.IsContiguous() {
		panic(fmt.Errorf("ml: bytes of %s: %w", t, ErrNotContiguous))
	}
	return t.data[t.BytesOffset() : t.BytesOffset()+t.BytesSize()]
}

// Floats decodes the logical contents to float32 in row-major order,
// regardless of layout.
func (t *Tensor) Floats() []float32 {
	out := make([]float32, t.Size())
	if len(out) == 0 {
		return out
	}
	ix := make([]int, len(t.shape))
	for i := range out {
		out[i] = t.dtype.Float32(t.Elem(t.ElemOffset(ix...)))
		for d := len(ix) - 1; d >= 0; d-- {
			ix[d]++
			if ix[d] < t.shape[d] {
				break
			}
			ix[d] = 0
		}
	}
	return out
}

// view returns a shallow copy with fresh shape/stride slices.
func (t *Tensor) view() *Tensor {
	return &Tensor{
		dtype:  t.dtype,
		shape:  slices.Clone(t.shape),
		stride: slices.Clone(t.stride),
		offset: t.offset,
		data:   t.data,
	}
}

// Reshape returns a view with the new shape. The reshape must be expressible
// on the existing strides without moving data: contiguous runs of dimensions
// may be merged, and any single dimension may be split into factors.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if numElems(shape) != t.Size() {
		panic(fmt.Errorf("ml: reshape %s to %v: %w", t, shape, ErrShapeMismatch))
	}
	v := t.view()
	v.shape = slices.Clone(shape)
	if t.Size() == 0 {
		v.stride = contiguousStrides(shape)
		return v
	}
	stride, ok := reshapeStrides(t.shape, t.stride, shape)
	if !ok {
		panic(fmt.Errorf("ml: reshape %s (strides %v) to %v: %w", t, t.stride, shape, ErrNotReformable))
	}
	v.stride = stride
	return v
}

// reshapeStrides computes strides for newShape over the same buffer, or
// reports that the reshape needs a copy.
func reshapeStrides(shape, stride, newShape []int) ([]int, bool) {
	// Size-1 dimensions carry no layout information.
	var oShape, oStride []int
	for i, d := range shape {
		if d != 1 {
			oShape = append(oShape, d)
			oStride = append(oStride, stride[i])
		}
	}

	newStride := make([]int, len(newShape))
	ni, oi := 0, 0
	for ni < len(newShape) && oi < len(oShape) {
		if newShape[ni] == 1 {
			newStride[ni] = 0
			ni++
			continue
		}
		// Grow both groups until their products match.
		np, op := newShape[ni], oShape[oi]
		nj, oj := ni+1, oi+1
		for np != op {
			if np < op {
				np *= newShape[nj]
				nj++
			} else {
				op *= oShape[oj]
				oj++
			}
		}
		// The old group must be internally packed for a no-copy regroup.
		for k := oi; k < oj-1; k++ {
			if oStride[k] != oStride[k+1]*oShape[k+1] {
				return nil, false
			}
		}
		s := oStride[oj-1]
		for k := nj - 1; k >= ni; k-- {
			if newShape[k] == 1 {
				newStride[k] = 0
				continue
			}
			newStride[k] = s
			s *= newShape[k]
		}
		ni, oi = nj, oj
	}
	for ; ni < len(newShape); ni++ {
		if newShape[ni] != 1 {
			return nil, false
		}
		newStride[ni] = 0
	}
	return newStride, true
}

// Transpose permutes the axes.
func (t *Tensor) Transpose(perm ...int) *Tensor {
	if len(perm) != len(t.shape) {
		panic(fmt.Errorf("ml: transpose %s by %v: %w", t, perm, ErrRankMismatch))
	}
	seen := make([]bool, len(perm))
	v := t.view()
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			panic(fmt.Errorf("ml: transpose %s by %v: not a permutation: %w", t, perm, ErrDimMismatch))
		}
		seen[p] = true
		v.shape[i] = t.shape[p]
		v.stride[i] = t.stride[p]
	}
	return v
}

// Range selects [Start, Start+Len·Step) with stride Step along one axis.
// A zero Step reads as 1; a negative Len extends to the end of the axis.
type Range struct {
	Start, Step, Len int
}

// All is the identity range for an axis.
var All = Range{0, 1, -1}

// Slice applies one Range per axis.
func (t *Tensor) Slice(ranges ...Range) *Tensor {
	if len(ranges) != len(t.shape) {
		panic(fmt.Errorf("ml: slice %s with %d ranges: %w", t, len(ranges), ErrRankMismatch))
	}
	v := t.view()
	for i, r := range ranges {
		if r.Step <= 0 {
			r.Step = 1
		}
		if r.Len < 0 {
			r.Len = (t.shape[i] - r.Start + r.Step - 1) / r.Step
		}
		if r.Start < 0 || (r.Len > 0 && r.Start+(r.Len-1)*r.Step >= t.shape[i]) {
			panic(fmt.Errorf("ml: slice %s axis %d by %+v: %w", t, i, r, ErrOutOfRange))
		}
		v.offset += r.Start * v.stride[i]
		v.stride[i] *= r.Step
		v.shape[i] = r.Len
	}
	return v
}

// Narrow selects [start, start+n) along one axis.
func (t *Tensor) Narrow(axis, start, n int) *Tensor {
	if axis < 0 || axis >= len(t.shape) || start < 0 || start+n > t.shape[axis] {
		panic(fmt.Errorf("ml: narrow %s axis %d [%d:%d): %w", t, axis, start, start+n, ErrOutOfRange))
	}
	v := t.view()
	v.offset += start * v.stride[axis]
	v.shape[axis] = n
	return v
}

// Broadcast expands a size-1 axis to n by setting its stride to zero.
func (t *Tensor) Broadcast(axis, n int) *Tensor {
	if t.shape[axis] != 1 {
		panic(fmt.Errorf("ml: broadcast %s axis %d: %w", t, axis, ErrDimMismatch))
	}
	v := t.view()
	v.shape[axis] = n
	v.stride[axis] = 0
	return v
}

// Split partitions an axis into views of the given segment lengths. The
// segments may cover at most the whole axis.
func (t *Tensor) Split(axis int, segments ...int) []*Tensor {
	total := 0
	for _, seg := range segments {
		total += seg
	}
	if axis < 0 || axis >= len(t.shape) || total > t.shape[axis] {
		panic(fmt.Errorf("ml: split %s axis %d into %v: %w", t, axis, segments, ErrOutOfRange))
	}
	parts := make([]*Tensor, len(segments))
	start := 0
	for i, seg := range segments {
		parts[i] = t.Narrow(axis, start, seg)
		start += seg
	}
	return parts
}
