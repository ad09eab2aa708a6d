// config.go - HuggingFace config.json parsing
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/llamastream/llamastream/ml"
)

const (
	defaultRMSNormEps = 1e-5
	defaultRopeTheta  = 1e4
)

// ConfigJSON mirrors the fields of a LLaMA-family config.json. The MoE
// fields are zero for dense checkpoints.
type ConfigJSON struct {
	Architectures         []string `json:"architectures"`
	BOSTokenID            int32    `json:"bos_token_id"`
	EOSTokenID            int32    `json:"eos_token_id"`
	HiddenSize            int      `json:"hidden_size"`
	IntermediateSize      int      `json:"intermediate_size"`
	MaxPositionEmbeddings int      `json:"max_position_embeddings"`
	NumAttentionHeads     int      `json:"num_attention_heads"`
	NumHiddenLayers       int      `json:"num_hidden_layers"`
	NumKeyValueHeads      int      `json:"num_key_value_heads"`
	VocabSize             int      `json:"vocab_size"`
	RMSNormEps            float32  `json:"rms_norm_eps"`
	RopeTheta             float32  `json:"rope_theta"`
	TorchDtype            string   `json:"torch_dtype"`
	NumLocalExperts       int      `json:"num_local_experts,omitempty"`
	NumExpertsPerTok      int      `json:"num_experts_per_tok,omitempty"`
}

// LoadConfig reads <dir>/config.json and applies the conventional defaults
// for fields a checkpoint may omit.
func LoadConfig(dir string) (*ConfigJSON, error) {
	bts, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	var c ConfigJSON
	if err := json.Unmarshal(bts, &c); err != nil {
		return nil, fmt.Errorf("config.json: %w", err)
	}
	if c.RMSNormEps == 0 {
		c.RMSNormEps = defaultRMSNormEps
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = defaultRopeTheta
	}
	if c.NumKeyValueHeads == 0 {
		c.NumKeyValueHeads = c.NumAttentionHeads
	}
	return &c, nil
}

// HeadDim returns the per-head channel count.
func (c *ConfigJSON) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

// DataType maps torch_dtype to a storage dtype.
func (c *ConfigJSON) DataType() (ml.DType, error) {
	switch c.TorchDtype {
	case "float32":
		return ml.DTypeF32, nil
	case "float16":
		return ml.DTypeF16, nil
	case "bfloat16":
		return ml.DTypeBF16, nil
	default:
		return ml.DTypeOther, fmt.Errorf("%w: torch_dtype %q", ErrUnsupportedDtype, c.TorchDtype)
	}
}

// torchTypeName is the inverse of DataType, used when writing a checkpoint.
func torchTypeName(dt ml.DType) string {
	switch dt {
	case ml.DTypeF32:
		return "float32"
	case ml.DTypeF16:
		return "float16"
	case ml.DTypeBF16:
		return "bfloat16"
	default:
		return ""
	}
}
