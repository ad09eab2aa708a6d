// Package kvcache holds the per-query key/value history of a causal model.
//
// A Cache is a single [nlayers, 2, nkvh, maxSeqLen, dh] tensor; positions
// [0, pos) hold valid keys and values, where pos is tracked by the owning
// query. Caches are never shared between queries: each one is a disjoint
// mutable resource, so the engine reads and writes caches of different
// queries in parallel without locking.
package kvcache

import (
	"github.com/llamastream/llamastream/ml"
)

type Cache struct {
	data *ml.Tensor // [nlayers, 2, nkvh, maxSeqLen, dh]
}

// New allocates a zero-initialized cache.
func New(dt ml.DType, nlayers, nkvh, maxSeqLen, dh int) *Cache {
	return &Cache{data: ml.Zeros(dt, nlayers, 2, nkvh, maxSeqLen, dh)}
}

// Duplicate allocates a fresh cache and copies positions [0, pos) from c.
// Positions at and beyond pos are undefined in the copy (the allocation is
// zeroed, no history is carried over).
func (c *Cache) Duplicate(pos int) *Cache {
	d := &Cache{data: ml.Zeros(c.data.DType(), c.data.Shape()...)}
	if pos > 0 {
		src := c.data.Slice(ml.All, ml.All, ml.All, ml.Range{Start: 0, Step: 1, Len: pos}, ml.All)
		dst := d.data.Slice(ml.All, ml.All, ml.All, ml.Range{Start: 0, Step: 1, Len: pos}, ml.All)
		src.ReformTo(dst)
	}
	return d
}

// Tensor exposes the backing tensor.
func (c *Cache) Tensor() *ml.Tensor { return c.data }

// MaxSeqLen returns the position capacity.
func (c *Cache) MaxSeqLen() int { return c.data.Dim(3) }
