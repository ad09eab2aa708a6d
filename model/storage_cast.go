// storage_cast.go - offline dtype conversion and checkpoint writing
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/llamastream/llamastream/fs/safetensors"
	"github.com/llamastream/llamastream/ml"
)

// Cast returns a copy of the dense storage with every weight converted to
// dt. With the storage dtype already matching, the weights are shared.
func (s *Storage) Cast(dt ml.DType) *Storage {
	convert := func(t *ml.Tensor) *ml.Tensor {
		if t == nil || t.DType() == dt {
			return t
		}
		return ml.FromFloats(dt, t.Floats(), t.Shape()...)
	}

	cfg := *s.Config
	cfg.TorchDtype = torchTypeName(dt)

	out := &Storage{
		Config:      &cfg,
		DType:       dt,
		EmbedTokens: convert(s.EmbedTokens),
		LMLayernorm: convert(s.LMLayernorm),
		LMHead:      convert(s.LMHead),
	}
	out.Layers = make([]LayerStorage, len(s.Layers))
	for i, l := range s.Layers {
		out.Layers[i] = LayerStorage{
			AttLayernorm: convert(l.AttLayernorm),
			AttQKV:       convert(l.AttQKV),
			AttO:         convert(l.AttO),
			MLPLayernorm: convert(l.MLPLayernorm),
			MLPGateUp:    convert(l.MLPGateUp),
			MLPDown:      convert(l.MLPDown),
		}
	}
	return out
}

// NamedTensor pairs a weight with its canonical checkpoint name.
type NamedTensor struct {
	Name   string
	Tensor *ml.Tensor
}

// Tensors lists the weights under their canonical checkpoint names in write
// order, with projections restored to output-major orientation. Fused
// projections stay fused; the loader accepts either form.
func (s *Storage) Tensors() []NamedTensor {
	out := []NamedTensor{{"model.embed_tokens.weight", s.EmbedTokens}}
	for i, l := range s.Layers {
		prefix := fmt.Sprintf("model.layers.%d.", i)
		out = append(out,
			NamedTensor{prefix + "input_layernorm.weight", l.AttLayernorm},
			NamedTensor{prefix + "self_attn.qkv_proj.weight", l.AttQKV.Transpose(1, 0)},
			NamedTensor{prefix + "self_attn.o_proj.weight", l.AttO.Transpose(1, 0)},
			NamedTensor{prefix + "post_attention_layernorm.weight", l.MLPLayernorm})
		if l.MLPGateUp != nil {
			out = append(out,
				NamedTensor{prefix + "mlp.gate_up_proj.weight", l.MLPGateUp.Transpose(1, 0)},
				NamedTensor{prefix + "mlp.down_proj.weight", l.MLPDown.Transpose(1, 0)})
		}
	}
	return append(out,
		NamedTensor{"model.norm.weight", s.LMLayernorm},
		NamedTensor{"lm_head.weight", s.LMHead.Transpose(1, 0)})
}

// Save writes config.json and a single model.safetensors into dir.
func (s *Storage) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	cfg, err := json.MarshalIndent(s.Config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), cfg, 0o644); err != nil {
		return err
	}

	var names []string
	tensors := make(map[string]*ml.Tensor)
	for _, nt := range s.Tensors() {
		names = append(names, nt.Name)
		tensors[nt.Name] = nt.Tensor
	}
	return safetensors.Write(filepath.Join(dir, "model.safetensors"), names, tensors)
}
