// Package safetensors reads and writes the safetensors container format: a
// little-endian u64 header length, a JSON header mapping tensor names to
// {dtype, shape, data_offsets}, then the raw tensor payload.
//
// Only the dtypes the engine computes with are supported (F32, F16, BF16).
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/llamastream/llamastream/ml"
)

var (
	ErrInvalid          = errors.New("invalid safetensors file")
	ErrUnsupportedDtype = errors.New("unsupported dtype")
)

type tensorMeta struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// File is a parsed safetensors container. Tensors returned from it are views
// into the payload; the caller must treat them as read-only.
type File struct {
	names   []string
	tensors map[string]tensorMeta
	payload []byte
}

// Open reads and parses one safetensors file.
func Open(path string) (*File, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode(bts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses an in-memory safetensors container.
func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: truncated header length", ErrInvalid)
	}
	headerLen := binary.LittleEndian.Uint64(data)
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds file", ErrInvalid, headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	f := &File{
		tensors: make(map[string]tensorMeta, len(header)),
		payload: data[8+headerLen:],
	}
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var meta tensorMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %w", ErrInvalid, name, err)
		}
		dt, err := dataType(meta.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		want := dt.Size()
		for _, d := range meta.Shape {
			want *= d
		}
		if meta.Offsets[1] < meta.Offsets[0] || meta.Offsets[1] > len(f.payload) ||
			meta.Offsets[1]-meta.Offsets[0] != want {
			return nil, fmt.Errorf("%w: tensor %q offsets %v for shape %v", ErrInvalid, name, meta.Offsets, meta.Shape)
		}
		f.tensors[name] = meta
		f.names = append(f.names, name)
	}
	slices.Sort(f.names)
	return f, nil
}

// Names lists the contained tensors in sorted order.
func (f *File) Names() []string { return f.names }

// Has reports whether a tensor is present.
func (f *File) Has(name string) bool {
	_, ok := f.tensors[name]
	return ok
}

// Tensor returns a named tensor as a view into the payload.
func (f *File) Tensor(name string) (*ml.Tensor, error) {
	meta, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: no tensor %q", ErrInvalid, name)
	}
	dt, err := dataType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return ml.New(dt, meta.Shape, f.payload[meta.Offsets[0]:meta.Offsets[1]]), nil
}

func dataType(s string) (ml.DType, error) {
	switch s {
	case "F32":
		return ml.DTypeF32, nil
	case "F16":
		return ml.DTypeF16, nil
	case "BF16":
		return ml.DTypeBF16, nil
	default:
		return ml.DTypeOther, fmt.Errorf("%w: %q", ErrUnsupportedDtype, s)
	}
}

func typeName(dt ml.DType) string {
	switch dt {
	case ml.DTypeF32:
		return "F32"
	case ml.DTypeF16:
		return "F16"
	case ml.DTypeBF16:
		return "BF16"
	default:
		return ""
	}
}
