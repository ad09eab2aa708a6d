// transforms.go - the filter chain behind Sample
package sample

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// token is one candidate with its (possibly unnormalized) probability.
type token struct {
	id int32
	p  float64
}

// softmax scales logits by 1/temperature and returns candidates sorted by
// descending probability. The sort is what makes the later prefix filters
// cheap.
func softmax(logits []float32, temperature float32) []token {
	maxv := float64(logits[0]) / float64(temperature)
	ps := make([]float64, len(logits))
	for i, v := range logits {
		ps[i] = float64(v) / float64(temperature)
		if ps[i] > maxv {
			maxv = ps[i]
		}
	}
	for i := range ps {
		ps[i] = math.Exp(ps[i] - maxv)
	}
	scale := 1 / floats.Sum(ps)

	cands := make([]token, len(ps))
	for i, p := range ps {
		cands[i] = token{id: int32(i), p: p * scale}
	}
	slices.SortStableFunc(cands, func(a, b token) int {
		switch {
		case a.p > b.p:
			return -1
		case a.p < b.p:
			return 1
		default:
			return 0
		}
	})
	return cands
}

// topK keeps the k most probable candidates.
func topK(cands []token, k int) []token {
	if k > 0 && k < len(cands) {
		return cands[:k]
	}
	return cands
}

// topP keeps the smallest prefix whose cumulative probability reaches p.
func topP(cands []token, p float32) []token {
	if p <= 0 || p >= 1 {
		return cands
	}
	sum := make([]float64, len(cands))
	for i, c := range cands {
		sum[i] = c.p
	}
	floats.CumSum(sum, sum)
	for i := range cands {
		if sum[i] >= float64(p) {
			return cands[:i+1]
		}
	}
	return cands
}

// pick renormalizes the surviving candidates and draws one.
func pick(cands []token, rng *rand.Rand) int32 {
	var total float64
	for _, c := range cands {
		total += c.p
	}
	r := rng.Float64() * total
	for _, c := range cands {
		r -= c.p
		if r <= 0 {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}
