// tensor_test.go - view algebra and layout invariants
package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arange(t *testing.T, dt DType, shape ...int) *Tensor {
	t.Helper()
	vs := make([]float32, numElems(shape))
	for i := range vs {
		vs[i] = float32(i)
	}
	return FromFloats(dt, vs, shape...)
}

func TestContiguousPattern(t *testing.T) {
	x := Zeros(DTypeF32, 2, 3, 4, 5)
	assert.Equal(t, []int{2, 3, 4, 5}, x.Shape())
	assert.Equal(t, []int{60, 20, 5, 1}, x.Strides())
	assert.Equal(t, 4, x.ContiguousLen())
	assert.True(t, x.IsContiguous())
	assert.Equal(t, 120, x.Size())
	assert.Equal(t, 480, x.BytesSize())
	assert.Equal(t, 0, x.BytesOffset())
}

func TestReshapeMergeAndSplit(t *testing.T) {
	x := Zeros(DTypeF32, 2, 3, 4, 5)

	y := x.Reshape(2, 3, 20)
	assert.Equal(t, []int{60, 20, 1}, y.Strides())
	assert.Equal(t, 3, y.ContiguousLen())
	assert.True(t, y.IsContiguous())

	y = y.Transpose(1, 0, 2)
	assert.Equal(t, []int{3, 2, 20}, y.Shape())
	assert.Equal(t, []int{20, 60, 1}, y.Strides())
	assert.Equal(t, 1, y.ContiguousLen())
	assert.False(t, y.IsContiguous())

	y = y.Reshape(3, 1, 1, 2, 5, 1, 4, 1, 1, 1)
	assert.Equal(t, []int{20, 0, 0, 60, 4, 0, 1, 0, 0, 0}, y.Strides())
	assert.Equal(t, 6, y.ContiguousLen())

	y = y.Reshape(3, 2, 1, 5, 2, 2)
	assert.Equal(t, []int{20, 60, 0, 4, 2, 1}, y.Strides())
	assert.Equal(t, 4, y.ContiguousLen())
}

func TestReshapePreservesSequence(t *testing.T) {
	x := arange(t, DTypeF32, 3, 8)
	y := x.Reshape(2, 3, 4)
	assert.Equal(t, x.Floats(), y.Floats())
	assert.Equal(t, x.Bytes(), y.Bytes())
}

func TestReshapeErrors(t *testing.T) {
	x := Zeros(DTypeF32, 2, 3)
	assert.PanicsWithError(t, "ml: reshape F32[2 3] to [7]: shape mismatch", func() {
		x.Reshape(7)
	})

	// A transposed matrix cannot merge its axes without a copy.
	assert.Panics(t, func() {
		Zeros(DTypeF32, 4, 6).Transpose(1, 0).Reshape(24)
	})
}

func TestTransposeRoundTrip(t *testing.T) {
	x := arange(t, DTypeF32, 2, 3, 4)
	y := x.Transpose(2, 0, 1).Transpose(1, 2, 0)
	assert.Equal(t, x.Shape(), y.Shape())
	assert.Equal(t, x.Strides(), y.Strides())
	assert.Equal(t, x.Offset(), y.Offset())
	assert.Equal(t, x.Floats(), y.Floats())
}

func TestSlice(t *testing.T) {
	x := arange(t, DTypeF32, 10)
	y := x.Slice(Range{Start: 2, Step: 3, Len: 2})
	assert.Equal(t, []int{2}, y.Shape())
	assert.Equal(t, []float32{2, 5}, y.Floats())

	m := arange(t, DTypeF32, 4, 6)
	sub := m.Slice(Range{Start: 1, Step: 1, Len: 2}, Range{Start: 2, Step: 2, Len: 2})
	assert.Equal(t, []float32{8, 10, 14, 16}, sub.Floats())
	assert.False(t, sub.IsContiguous())
}

func TestBroadcast(t *testing.T) {
	x := arange(t, DTypeF32, 1, 3)
	y := x.Broadcast(0, 4)
	assert.Equal(t, []int{4, 3}, y.Shape())
	assert.Equal(t, 0, y.Strides()[0])
	for i := range 4 {
		assert.Equal(t, x.Float32At(0, 1), y.Float32At(i, 1))
	}

	assert.Panics(t, func() { arange(t, DTypeF32, 2, 3).Broadcast(0, 4) })
}

func TestSplitCoversAxis(t *testing.T) {
	x := arange(t, DTypeF32, 4, 6, 8)
	parts := x.Split(1, 2, 3, 1)
	require.Len(t, parts, 3)
	assert.Equal(t, []int{4, 2, 8}, parts[0].Shape())
	assert.Equal(t, []int{4, 3, 8}, parts[1].Shape())
	assert.Equal(t, []int{4, 1, 8}, parts[2].Shape())

	at := 0
	for _, p := range parts {
		for i := range p.Dim(0) {
			for j := range p.Dim(1) {
				for k := range p.Dim(2) {
					assert.Equal(t, x.Float32At(i, at+j, k), p.Float32At(i, j, k))
				}
			}
		}
		at += p.Dim(1)
	}
	assert.Equal(t, 6, at)
}

func TestNarrowOffsets(t *testing.T) {
	x := arange(t, DTypeF32, 5, 4)
	y := x.Narrow(0, 2, 2)
	assert.Equal(t, []int{2, 4}, y.Shape())
	assert.Equal(t, 8, y.Offset())
	assert.Equal(t, []float32{8, 9, 10, 11, 12, 13, 14, 15}, y.Floats())
}

func TestBytesRequiresContiguous(t *testing.T) {
	x := arange(t, DTypeF32, 4, 4)
	assert.Panics(t, func() { x.Transpose(1, 0).Bytes() })
}

func TestBufferBounds(t *testing.T) {
	// Every view stays inside the physical buffer.
	x := arange(t, DTypeF16, 3, 5)
	views := []*Tensor{
		x,
		x.Transpose(1, 0),
		x.Narrow(0, 1, 2),
		x.Slice(Range{0, 2, 2}, Range{0, 1, 5}),
	}
	for _, v := range views {
		last := make([]int, v.Rank())
		for i := range last {
			last[i] = v.Dim(i) - 1
		}
		assert.Less(t, v.ElemOffset(last...)*v.DType().Size(), x.BytesSize())
	}
}

func TestFillReadRoundTrip(t *testing.T) {
	x := Zeros(DTypeF32, 2, 3)
	b := x.Bytes()
	for i := range b {
		b[i] = byte(i)
	}
	assert.Equal(t, b, x.Bytes())

	y := FromFloats(DTypeF16, []float32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, y.Floats())
}

func TestDTypeConversions(t *testing.T) {
	for _, dt := range []DType{DTypeF32, DTypeF16, DTypeBF16} {
		buf := make([]byte, dt.Size())
		for _, v := range []float32{0, 1, -2, 0.5, 256} {
			dt.PutFloat32(buf, v)
			assert.Equal(t, v, dt.Float32(buf), "dtype %s value %f", dt, v)
		}
	}
}
