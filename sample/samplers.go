// Package sample draws next tokens from logits rows using temperature,
// top-k and top-p (nucleus) filtering, in that order.
package sample

import (
	"math/rand/v2"
)

// Args configures sampling for one query. A zero Temperature means greedy
// argmax; TopK <= 0 and TopP outside (0, 1) disable their filters. Seed
// makes the draw deterministic; a zero Seed picks a fresh stream.
type Args struct {
	Temperature float32
	TopK        int
	TopP        float32
	Seed        uint64
}

type Sampler struct {
	args Args
	rng  *rand.Rand
}

// New builds a sampler for one query's rows.
func New(args Args) *Sampler {
	seed := args.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Sampler{
		args: args,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Sample draws one token id from a logits row.
func (s *Sampler) Sample(logits []float32) int32 {
	if len(logits) == 0 {
		return -1
	}
	if s.args.Temperature == 0 {
		return argmax(logits)
	}

	cands := softmax(logits, s.args.Temperature)
	cands = topK(cands, s.args.TopK)
	cands = topP(cands, s.args.TopP)
	return pick(cands, s.rng)
}

func argmax(logits []float32) int32 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best)
}
