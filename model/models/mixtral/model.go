// Package mixtral runs Mixtral-style sparse mixture-of-experts
// transformers. The attention path matches dense LLaMA; the MLP substep
// routes every token through its top-k experts and accumulates their
// outputs weighted by the router probabilities.
package mixtral

import (
	"fmt"

	"github.com/llamastream/llamastream/kvcache"
	"github.com/llamastream/llamastream/ml"
	"github.com/llamastream/llamastream/ml/nn"
	"github.com/llamastream/llamastream/model"
)

type Transformer struct {
	s    *model.Storage
	moe  []moeLayer
	topK int
}

type moeLayer struct {
	Gate    *ml.Tensor // [d, ne]
	Experts []expert
}

type expert struct {
	GateUp *ml.Tensor // [d, 2·di]
	Down   *ml.Tensor // [di, d]
}

func New(s *model.Storage, ws *model.WeightSet) (model.CausalLM, error) {
	cfg := s.Config
	if cfg.NumLocalExperts <= 0 || cfg.NumExpertsPerTok <= 0 ||
		cfg.NumExpertsPerTok > cfg.NumLocalExperts {
		return nil, fmt.Errorf("%d experts with top-%d routing: %w",
			cfg.NumLocalExperts, cfg.NumExpertsPerTok, ml.ErrDimMismatch)
	}
	if cfg.HiddenSize%cfg.NumAttentionHeads != 0 ||
		cfg.NumAttentionHeads%cfg.NumKeyValueHeads != 0 {
		return nil, fmt.Errorf("head layout %d/%d over hidden %d: %w",
			cfg.NumAttentionHeads, cfg.NumKeyValueHeads, cfg.HiddenSize, ml.ErrDimMismatch)
	}

	m := &Transformer{s: s, topK: cfg.NumExpertsPerTok}
	m.moe = make([]moeLayer, cfg.NumHiddenLayers)
	d, di, ne := cfg.HiddenSize, cfg.IntermediateSize, cfg.NumLocalExperts
	for i := range m.moe {
		prefix := fmt.Sprintf("model.layers.%d.block_sparse_moe.", i)
		gate, err := ws.Typed(prefix+"gate.weight", s.DType, ne, d)
		if err != nil {
			return nil, err
		}
		m.moe[i].Gate = gate.Transpose(1, 0)

		m.moe[i].Experts = make([]expert, ne)
		for j := range m.moe[i].Experts {
			eprefix := fmt.Sprintf("%sexperts.%d.", prefix, j)
			gu, err := ws.Fused(eprefix+"w13.weight", s.DType, d,
				model.Part{Name: eprefix + "w1.weight", Rows: di},
				model.Part{Name: eprefix + "w3.weight", Rows: di})
			if err != nil {
				return nil, err
			}
			down, err := ws.Typed(eprefix+"w2.weight", s.DType, d, di)
			if err != nil {
				return nil, err
			}
			m.moe[i].Experts[j] = expert{
				GateUp: gu.Transpose(1, 0),
				Down:   down.Transpose(1, 0),
			}
		}
	}
	return m, nil
}

func (m *Transformer) MaxSeqLen() int { return m.s.Config.MaxPositionEmbeddings }

func (m *Transformer) EOSToken() int32 { return m.s.Config.EOSTokenID }

func (m *Transformer) NewCache() *kvcache.Cache {
	cfg := m.s.Config
	return kvcache.New(m.s.DType, cfg.NumHiddenLayers, cfg.NumKeyValueHeads,
		cfg.MaxPositionEmbeddings, cfg.HeadDim())
}

func (m *Transformer) DuplicateCache(src *kvcache.Cache, pos int) *kvcache.Cache {
	return src.Duplicate(pos)
}

func (m *Transformer) TokenEmbed(ids []int32) *ml.Tensor {
	x := ml.Zeros(m.s.DType, len(ids), m.s.Config.HiddenSize)
	nn.Gather(x, m.s.EmbedTokens, ids)
	return x
}

func (m *Transformer) Decode(metas []model.DecodingMeta, hidden *ml.Tensor) *ml.Tensor {
	s := m.s
	nd := model.SelectDecodeRows(hidden, metas)
	if nd == 0 {
		return ml.Zeros(s.DType, 0, s.Config.VocabSize)
	}

	x := hidden.Narrow(0, 0, nd)
	nn.RMSNorm(x, x, s.LMLayernorm, s.Config.RMSNormEps)
	logits := ml.Zeros(s.DType, nd, s.Config.VocabSize)
	nn.MatMul(logits, 0, x, s.LMHead, 1)
	return logits
}

func (m *Transformer) Sample(metas []model.SampleMeta, logits *ml.Tensor) []int32 {
	return model.SampleTokens(metas, logits)
}

func init() {
	model.Register("mixtral", New)
}
