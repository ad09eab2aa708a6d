// forward.go - per-step compute stream with expert routing
package mixtral

import (
	"sort"

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
	ne := cfg.NumLocalExperts
	dt := s.DType

	pos := make([]int32, nt)
	for _, q := range queries {
		for i := range q.Len() {
			pos[q.Start+i] = int32(q.Pos + i)
		}
	}

	x1 := ml.Zeros(dt, nt, d)
	qkvBuf := ml.Zeros(dt, nt, (nh+2*nkvh)*dh)
	attOut := ml.Zeros(dt, nt, nh*dh)
	router := ml.Zeros(dt, nt, ne)

	heads := qkvBuf.Reshape(nt, nh+2*nkvh, dh).Split(1, nh, nkvh, nkvh)
	q, k, v := heads[0], heads[1], heads[2]

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
		nn.MatMul(router, 0, x1, m.moe[layer].Gate, 1)

		var mg errgroup.Group
		for t := range nt {
			mg.Go(func() error {
				m.expertMLP(layer, x.Narrow(0, t, 1), x1.Narrow(0, t, 1), router.Narrow(0, t, 1))
				return nil
			})
		}
		mg.Wait()
	}

	return x, nil
}

// attention matches the dense path: RoPE, cache append, grouped-query causal
// attention over the query's history.
func (m *Transformer) attention(layer int, query model.Query, q, k, v, attOut *ml.Tensor, pos []int32) {
	cfg := m.s.Config
	nh, nkvh, dh := cfg.NumAttentionHeads, cfg.NumKeyValueHeads, cfg.HeadDim()
	gs := nh / nkvh
	a, l := query.Start, query.Len()
	past := query.Pos
	total := past + l

	qs := q.Narrow(0, a, l)
	ks := k.Narrow(0, a, l)
	vs := v.Narrow(0, a, l)
	seqPos := pos[a : a+l]

	nn.RoPE(qs, seqPos, cfg.RopeTheta)
	nn.RoPE(ks, seqPos, cfg.RopeTheta)

	query.Cache.Put(layer, ks.Transpose(1, 0, 2), vs.Transpose(1, 0, 2), past)

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

// expertMLP routes one normalized token row xn [1, d] through its top-k
// experts and accumulates their weighted outputs into the residual row
// xrow [1, d].
func (m *Transformer) expertMLP(layer int, xrow, xn, logits *ml.Tensor) {
	di := m.s.Config.IntermediateSize
	chosen, weights := route(logits.Floats(), m.topK)

	gateUp := ml.Zeros(m.s.DType, 1, 2*di)
	parts := gateUp.Split(1, di, di)
	gate, up := parts[0], parts[1]
	for i, e := range chosen {
		ex := &m.moe[layer].Experts[e]
		nn.MatMul(gateUp, 0, xn, ex.GateUp, 1)
		nn.SwiGLU(gate, up)
		nn.MatMul(xrow, 1, gate, ex.Down, weights[i])
	}
}

// route picks the top-k router logits and softmaxes them into mixing
// weights, the standard Mixtral normalization.
func route(logits []float32, k int) ([]int, []float32) {
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })
	idx = idx[:k]

	weights := make([]float32, k)
	maxv := logits[idx[0]]
	var sum float32
	for i, e := range idx {
		weights[i] = math32.Exp(logits[e] - maxv)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return idx, weights
}
