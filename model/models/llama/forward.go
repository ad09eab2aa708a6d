// forward.go - the per-step compute stream
//
// One step runs every layer over the whole batched token sequence. Within a
// layer the attention substep fans out per query: each query owns its cache
// and a disjoint row range of the scratch buffers, so no synchronization is
// needed beyond joining the group.
package llama

import (
	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/llamastream/llamastream/ml"
	"github.com/llamastream/llamastream/ml/nn"
	"github.com/llamastream/llamastream/model"
)

// Forward overwrites x [nt, d] with the last hidden state of the stack.
func (m *Transformer) Forward(queries []model.Query, x *ml.Tensor) (*ml.Tensor, error) {
	s := m.s
	cfg := s.Config
	nt := x.Dim(0)
	if err := model.ValidateQueries(queries, nt, cfg.MaxPositionEmbeddings); err != nil {
		return nil, err
	}
	if nt == 0 {
		return x, nil
	}

	d := cfg.HiddenSize
	nh, nkvh, dh := cfg.NumAttentionHeads, cfg.NumKeyValueHeads, cfg.HeadDim()
	di := cfg.IntermediateSize
	dt := s.DType

	pos := make([]int32, nt)
	for _, q := range queries {
		for i := range q.Len() {
			pos[q.Start+i] = int32(q.Pos + i)
		}
	}

	// Step scratch, sized once for this nt.
	x1 := ml.Zeros(dt, nt, d)
	qkvBuf := ml.Zeros(dt, nt, (nh+2*nkvh)*dh)
	attOut := ml.Zeros(dt, nt, nh*dh)
	gateUp := ml.Zeros(dt, nt, 2*di)

	heads := qkvBuf.Reshape(nt, nh+2*nkvh, dh).Split(1, nh, nkvh, nkvh)
	q, k, v := heads[0], heads[1], heads[2]
	gu := gateUp.Split(1, di, di)
	gate, up := gu[0], gu[1]

	for layer := range s.Layers {
		w := &s.Layers[layer]

		nn.RMSNorm(x1, x, w.AttLayernorm, cfg.RMSNormEps)
		nn.MatMul(qkvBuf, 0, x1, w.AttQKV, 1)

		var g errgroup.Group
		for _, query := range queries {
			g.Go(func() error {
				m.attention(layer, query, q, k, v, attOut, pos)
				return nil
			})
		}
		g.Wait()

		nn.MatMul(x, 1, attOut, w.AttO, 1)

		nn.RMSNorm(x1, x, w.MLPLayernorm, cfg.RMSNormEps)
		nn.MatMul(gateUp, 0, x1, w.MLPGateUp, 1)
		nn.SwiGLU(gate, up)
		nn.MatMul(x, 1, gate, w.MLPDown, 1)
	}

	return x, nil
}

// attention runs one query's causal self-attention for one layer, appending
// the fresh keys/values to the query's cache and writing the merged head
// outputs into the query's rows of attOut.
func (m *Transformer) attention(layer int, query model.Query, q, k, v, attOut *ml.Tensor, pos []int32) {
	cfg := m.s.Config
	nh, nkvh, dh := cfg.NumAttentionHeads, cfg.NumKeyValueHeads, cfg.HeadDim()
	gs := nh / nkvh
	a, l := query.Start, query.Len()
	past := query.Pos
	total := past + l

	qs := q.Narrow(0, a, l) // [l, nh, dh]
	ks := k.Narrow(0, a, l) // [l, nkvh, dh]
	vs := v.Narrow(0, a, l)
	seqPos := pos[a : a+l]

	nn.RoPE(qs, seqPos, cfg.RopeTheta)
	nn.RoPE(ks, seqPos, cfg.RopeTheta)

	query.Cache.Put(layer, ks.Transpose(1, 0, 2), vs.Transpose(1, 0, 2), past)

	// Group the query heads over the kv heads and broadcast K/V across the
	// group axis by stride, not by tiling.
	qg := qs.Transpose(1, 0, 2).Reshape(nkvh, gs, l, dh)
	keys := query.Cache.Keys(layer, total).Reshape(nkvh, 1, total, dh).Broadcast(1, gs)
	values := query.Cache.Values(layer, total).Reshape(nkvh, 1, total, dh).Broadcast(1, gs)

	scores := ml.Zeros(m.s.DType, nkvh, gs, l, total)
	nn.MatMul(scores, 0, qg, keys.Transpose(0, 1, 3, 2), 1/math32.Sqrt(float32(dh)))
	nn.CausalMask(scores, past)
	nn.Softmax(scores)

	og := attOut.Narrow(0, a, l).Reshape(l, nh, dh).Transpose(1, 0, 2).Reshape(nkvh, gs, l, dh)
	nn.MatMul(og, 0, scores, values, 1)
}
