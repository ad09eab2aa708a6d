// storage.go - immutable model weights
//
// Storage is created once at load and never mutated. Projection weights are
// kept input-major ([d, out]) so a step computes x·W directly; since the
// checkpoint stores them output-major, the loader holds transposed views
// instead of copying.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/llamastream/llamastream/fs/safetensors"
	"github.com/llamastream/llamastream/ml"
)

var (
	ErrMissingWeight    = errors.New("missing weight")
	ErrUnsupportedDtype = errors.New("unsupported dtype")
	ErrNoCheckpoint     = errors.New("no safetensors files")
)

// LayerStorage bundles the weights of one transformer layer.
type LayerStorage struct {
	AttLayernorm *ml.Tensor // [d]
	AttQKV       *ml.Tensor // [d, (nh+2·nkvh)·dh]
	AttO         *ml.Tensor // [nh·dh, d]
	MLPLayernorm *ml.Tensor // [d]
	MLPGateUp    *ml.Tensor // [d, 2·di]
	MLPDown      *ml.Tensor // [di, d]
}

// Storage is the dense weight bundle of a checkpoint.
type Storage struct {
	Config      *ConfigJSON
	DType       ml.DType
	EmbedTokens *ml.Tensor // [nvoc, d]
	Layers      []LayerStorage
	LMLayernorm *ml.Tensor // [d]
	LMHead      *ml.Tensor // [d, nvoc]
}

// WeightSet indexes the tensors of all safetensors shards in a model dir.
type WeightSet struct {
	files []*safetensors.File
}

// OpenWeights parses every *.safetensors file under dir.
func OpenWeights(dir string) (*WeightSet, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	slices.Sort(paths)

	ws := &WeightSet{}
	for _, p := range paths {
		f, err := safetensors.Open(p)
		if err != nil {
			return nil, err
		}
		slog.Debug("opened checkpoint shard", "path", p, "tensors", len(f.Names()))
		ws.files = append(ws.files, f)
	}
	return ws, nil
}

// Names lists all tensors across shards, sorted and deduplicated.
func (w *WeightSet) Names() []string {
	var names []string
	for _, f := range w.files {
		names = append(names, f.Names()...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Has reports whether any shard carries the named tensor.
func (w *WeightSet) Has(name string) bool {
	for _, f := range w.files {
		if f.Has(name) {
			return true
		}
	}
	return false
}

// Tensor finds the named tensor across shards.
func (w *WeightSet) Tensor(name string) (*ml.Tensor, error) {
	for _, f := range w.files {
		if f.Has(name) {
			return f.Tensor(name)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingWeight, name)
}

// Typed fetches a weight, checks its shape, and converts stray dtypes to the
// storage dtype (some checkpoints keep norms in float32 next to half-
// precision weights).
func (w *WeightSet) Typed(name string, dt ml.DType, shape ...int) (*ml.Tensor, error) {
	t, err := w.Tensor(name)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(t.Shape(), shape) {
		return nil, fmt.Errorf("weight %s is %v, want %v: %w", name, t.Shape(), shape, ml.ErrShapeMismatch)
	}
	if t.DType() != dt {
		slog.Debug("converting weight dtype", "name", name, "from", t.DType(), "to", dt)
		t = ml.FromFloats(dt, t.Floats(), shape...)
	}
	return t, nil
}

// LoadStorage reads config.json and the dense weights from a model dir. The
// returned WeightSet stays open for architecture extensions (MoE experts).
func LoadStorage(dir string) (*Storage, *WeightSet, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, nil, err
	}
	dt, err := cfg.DataType()
	if err != nil {
		return nil, nil, err
	}
	ws, err := OpenWeights(dir)
	if err != nil {
		return nil, nil, err
	}

	d := cfg.HiddenSize
	dh := cfg.HeadDim()
	nh, nkvh := cfg.NumAttentionHeads, cfg.NumKeyValueHeads
	di := cfg.IntermediateSize

	s := &Storage{Config: cfg, DType: dt}
	if s.EmbedTokens, err = ws.Typed("model.embed_tokens.weight", dt, cfg.VocabSize, d); err != nil {
		return nil, nil, err
	}

	s.Layers = make([]LayerStorage, cfg.NumHiddenLayers)
	for i := range s.Layers {
		prefix := fmt.Sprintf("model.layers.%d.", i)
		l := &s.Layers[i]

		if l.AttLayernorm, err = ws.Typed(prefix+"input_layernorm.weight", dt, d); err != nil {
			return nil, nil, err
		}
		qkv, err := ws.Fused(prefix+"self_attn.qkv_proj.weight", dt, d,
			Part{prefix + "self_attn.q_proj.weight", nh * dh},
			Part{prefix + "self_attn.k_proj.weight", nkvh * dh},
			Part{prefix + "self_attn.v_proj.weight", nkvh * dh})
		if err != nil {
			return nil, nil, err
		}
		l.AttQKV = qkv.Transpose(1, 0)
		o, err := ws.Typed(prefix+"self_attn.o_proj.weight", dt, d, nh*dh)
		if err != nil {
			return nil, nil, err
		}
		l.AttO = o.Transpose(1, 0)

		if l.MLPLayernorm, err = ws.Typed(prefix+"post_attention_layernorm.weight", dt, d); err != nil {
			return nil, nil, err
		}
		if cfg.NumLocalExperts > 0 {
			// Sparse checkpoints route the MLP through per-layer experts,
			// loaded by the architecture package.
			continue
		}
		gu, err := ws.Fused(prefix+"mlp.gate_up_proj.weight", dt, d,
			Part{prefix + "mlp.gate_proj.weight", di},
			Part{prefix + "mlp.up_proj.weight", di})
		if err != nil {
			return nil, nil, err
		}
		l.MLPGateUp = gu.Transpose(1, 0)
		down, err := ws.Typed(prefix+"mlp.down_proj.weight", dt, d, di)
		if err != nil {
			return nil, nil, err
		}
		l.MLPDown = down.Transpose(1, 0)
	}

	if s.LMLayernorm, err = ws.Typed("model.norm.weight", dt, d); err != nil {
		return nil, nil, err
	}
	head, err := ws.Typed("lm_head.weight", dt, cfg.VocabSize, d)
	if err != nil {
		return nil, nil, err
	}
	s.LMHead = head.Transpose(1, 0)

	slog.Info("loaded model",
		"dtype", dt,
		"layers", cfg.NumHiddenLayers,
		"hidden", d,
		"heads", nh,
		"kv_heads", nkvh,
		"vocab", cfg.VocabSize)
	return s, ws, nil
}

type Part struct {
	Name string
	Rows int
}

// Fused fetches a pre-concatenated [Σrows, cols] projection, or concatenates
// its separate parts along the output axis when the checkpoint splits them.
func (w *WeightSet) Fused(name string, dt ml.DType, cols int, parts ...Part) (*ml.Tensor, error) {
	rows := 0
	for _, p := range parts {
		rows += p.Rows
	}
	if w.Has(name) {
		return w.Typed(name, dt, rows, cols)
	}

	out := ml.Zeros(dt, rows, cols)
	at := 0
	for _, p := range parts {
		t, err := w.Typed(p.Name, dt, p.Rows, cols)
		if err != nil {
			return nil, err
		}
		t.ReformTo(out.Narrow(0, at, p.Rows))
		at += p.Rows
	}
	return out, nil
}
