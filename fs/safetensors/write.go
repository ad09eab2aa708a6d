// write.go - safetensors serialization
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/llamastream/llamastream/ml"
)

// Encode writes tensors as one safetensors container. Payload order follows
// names; every tensor is serialized contiguously whatever its view layout.
func Encode(w io.Writer, names []string, tensors map[string]*ml.Tensor) error {
	header := make(map[string]tensorMeta, len(names))
	offset := 0
	for _, name := range names {
		t, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: no tensor %q", ErrInvalid, name)
		}
		tn := typeName(t.DType())
		if tn == "" {
			return fmt.Errorf("tensor %q: %w: %v", name, ErrUnsupportedDtype, t.DType())
		}
		header[name] = tensorMeta{
			DType:   tn,
			Shape:   t.Shape(),
			Offsets: [2]int{offset, offset + t.BytesSize()},
		}
		offset += t.BytesSize()
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, name := range names {
		t := tensors[name]
		if !t.IsContiguous() {
			t = t.Clone()
		}
		if _, err := w.Write(t.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Write serializes tensors to a file.
func Write(path string, names []string, tensors map[string]*ml.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Encode(f, names, tensors)
}
