// Package llama runs dense LLaMA-family transformers: RMS-norm, fused QKV
// projection with rotary position embedding, grouped-query attention over a
// per-query KV cache, and a SwiGLU MLP, one synchronous step at a time.
package llama

import (
	"fmt"

	"github.com/llamastream/llamastream/kvcache"
	"github.com/llamastream/llamastream/ml"
	"github.com/llamastream/llamastream/ml/nn"
	"github.com/llamastream/llamastream/model"
)

type Transformer struct {
	s *model.Storage
}

func New(s *model.Storage, _ *model.WeightSet) (model.CausalLM, error) {
	cfg := s.Config
	if cfg.HiddenSize%cfg.NumAttentionHeads != 0 {
		return nil, fmt.Errorf("hidden size %d not divisible by %d heads: %w",
			cfg.HiddenSize, cfg.NumAttentionHeads, ml.ErrDimMismatch)
	}
	if cfg.NumAttentionHeads%cfg.NumKeyValueHeads != 0 {
		return nil, fmt.Errorf("%d query heads not divisible by %d kv heads: %w",
			cfg.NumAttentionHeads, cfg.NumKeyValueHeads, ml.ErrDimMismatch)
	}
	return &Transformer{s: s}, nil
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
	model.Register("llama", New)
}
