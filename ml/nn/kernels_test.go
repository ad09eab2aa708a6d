// kernels_test.go - element-wise kernels against scalar references
package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamastream/llamastream/ml"
)

func TestGatherBitwise(t *testing.T) {
	table := ml.FromFloats(ml.DTypeF16, []float32{
		0, 1, 2,
		10, 11, 12,
		20, 21, 22,
		30, 31, 32,
	}, 4, 3)
	out := ml.Zeros(ml.DTypeF16, 2, 3)

	Gather(out, table, []int32{2, 0})

	assert.Equal(t, table.Narrow(0, 2, 1).Bytes(), out.Narrow(0, 0, 1).Bytes())
	assert.Equal(t, table.Narrow(0, 0, 1).Bytes(), out.Narrow(0, 1, 1).Bytes())
}

func TestGatherTokenOutOfRange(t *testing.T) {
	table := ml.Zeros(ml.DTypeF32, 4, 3)
	assert.Panics(t, func() {
		Gather(ml.Zeros(ml.DTypeF32, 1, 3), table, []int32{4})
	})
}

func TestRMSNormReference(t *testing.T) {
	const eps = 1e-5
	rng := rand.New(rand.NewPCG(11, 12))
	x := randTensor(rng, 2, 4)
	w := randTensor(rng, 4)
	y := ml.Zeros(ml.DTypeF32, 2, 4)

	RMSNorm(y, x, w, eps)

	for i := range 2 {
		var ss float64
		for j := range 4 {
			v := float64(x.Float32At(i, j))
			ss += v * v
		}
		scale := 1 / math.Sqrt(ss/4+eps)
		for j := range 4 {
			want := float64(x.Float32At(i, j)) * float64(w.Float32At(j)) * scale
			assert.InDelta(t, want, y.Float32At(i, j), 1e-5)
		}
	}
}

func TestRMSNormInPlace(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	x := randTensor(rng, 3, 8)
	w := randTensor(rng, 8)

	want := ml.Zeros(ml.DTypeF32, 3, 8)
	RMSNorm(want, x, w, 1e-5)

	// out == in must produce the same result.
	RMSNorm(x, x, w, 1e-5)
	assert.Equal(t, want.Floats(), x.Floats())
}

func TestRoPEIdentityAtZero(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	x := randTensor(rng, 1, 2, 4)
	want := x.Floats()

	RoPE(x, []int32{0}, 1e4)
	assert.Equal(t, want, x.Floats())
}

func TestRoPERotation(t *testing.T) {
	const theta = 1e4
	x := ml.FromFloats(ml.DTypeF32, []float32{1, 0, 0, 1}, 1, 1, 4)

	RoPE(x, []int32{3}, theta)

	// Pair (0,1) rotates by 3·theta^0, pair (2,3) by 3·theta^(-1/2).
	a0 := 3.0
	a1 := 3 * math.Pow(theta, -2.0/4)
	assert.InDelta(t, math.Cos(a0), x.Float32At(0, 0, 0), 1e-5)
	assert.InDelta(t, math.Sin(a0), x.Float32At(0, 0, 1), 1e-5)
	assert.InDelta(t, -math.Sin(a1), x.Float32At(0, 0, 2), 1e-5)
	assert.InDelta(t, math.Cos(a1), x.Float32At(0, 0, 3), 1e-5)
}

func TestSoftmaxRows(t *testing.T) {
	x := ml.FromFloats(ml.DTypeF32, []float32{1, 2, 3, 1000, 1000, 1000}, 2, 3)
	Softmax(x)

	for i := range 2 {
		var sum float32
		for j := range 3 {
			sum += x.Float32At(i, j)
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}
	// Large but equal logits stay stable and uniform.
	assert.InDelta(t, 1.0/3, x.Float32At(1, 0), 1e-5)
	// Monotone logits give monotone probabilities.
	assert.Less(t, x.Float32At(0, 0), x.Float32At(0, 2))
}

func TestSoftmaxMaskedToZero(t *testing.T) {
	neg := float32(math.Inf(-1))
	x := ml.FromFloats(ml.DTypeF32, []float32{0.5, neg, 0.5}, 1, 3)
	Softmax(x)
	assert.InDelta(t, 0.5, x.Float32At(0, 0), 1e-6)
	assert.Equal(t, float32(0), x.Float32At(0, 1))
	assert.InDelta(t, 0.5, x.Float32At(0, 2), 1e-6)
}

func TestCausalMask(t *testing.T) {
	scores := ml.Zeros(ml.DTypeF32, 1, 2, 5) // two tokens at positions 3, 4
	CausalMask(scores, 3)

	neg := float32(math.Inf(-1))
	for j := range 5 {
		if j <= 3 {
			assert.Equal(t, float32(0), scores.Float32At(0, 0, j))
		} else {
			assert.Equal(t, neg, scores.Float32At(0, 0, j))
		}
		assert.Equal(t, float32(0), scores.Float32At(0, 1, j))
	}
}

func TestSwiGLU(t *testing.T) {
	gate := ml.FromFloats(ml.DTypeF32, []float32{1, -2, 0.5, 0}, 2, 2)
	up := ml.FromFloats(ml.DTypeF32, []float32{2, 3, -1, 5}, 2, 2)
	in := gate.Floats()

	SwiGLU(gate, up)

	for i, a := range in {
		silu := float64(a) / (1 + math.Exp(-float64(a)))
		want := silu * float64(up.Floats()[i])
		require.InDelta(t, want, gate.Floats()[i], 1e-6)
	}
}
