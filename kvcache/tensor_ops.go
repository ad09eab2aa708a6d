// tensor_ops.go - cache views and appends
//
// Keys/Values produce [nkvh, n, dh] views over the history of one layer;
// Put reform-copies freshly projected keys and values into their slots.
package kvcache

import (
	"fmt"

	"github.com/llamastream/llamastream/ml"
)

// view selects cache[layer, kv, :, start:end, :] as [nkvh, end-start, dh].
func (c *Cache) view(layer, kv, start, end int) *ml.Tensor {
	nkvh, dh := c.data.Dim(2), c.data.Dim(4)
	return c.data.
		Narrow(0, layer, 1).
		Narrow(1, kv, 1).
		Narrow(3, start, end-start).
		Reshape(nkvh, end-start, dh)
}

// Keys returns the key history of a layer covering positions [0, upTo).
func (c *Cache) Keys(layer, upTo int) *ml.Tensor {
	return c.view(layer, 0, 0, upTo)
}

// Values returns the value history of a layer covering positions [0, upTo).
func (c *Cache) Values(layer, upTo int) *ml.Tensor {
	return c.view(layer, 1, 0, upTo)
}

// Put writes k and v, each [nkvh, n, dh], into positions [pos, pos+n) of the
// given layer.
func (c *Cache) Put(layer int, k, v *ml.Tensor, pos int) {
	n := k.Dim(1)
	if pos+n > c.MaxSeqLen() {
		panic(fmt.Errorf("kvcache: put %d tokens at position %d exceeds capacity %d: %w",
			n, pos, c.MaxSeqLen(), ml.ErrOutOfRange))
	}
	k.ReformTo(c.view(layer, 0, pos, pos+n))
	v.ReformTo(c.view(layer, 1, pos, pos+n))
}
