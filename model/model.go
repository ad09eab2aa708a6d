// Package model defines the causal-LM engine interface, the immutable weight
// storage, and the per-step metadata types shared by all architectures.
//
// Architecture packages under model/models register a constructor and are
// selected from the checkpoint config, the way a server binary pulls them in
// with blank imports.
package model

import (
	"errors"
	"fmt"

	"github.com/llamastream/llamastream/kvcache"
	"github.com/llamastream/llamastream/ml"
	"github.com/llamastream/llamastream/sample"
)

var (
	ErrUnsupportedModel  = errors.New("model not supported")
	ErrPositionOverflow  = errors.New("position exceeds max sequence length")
	ErrRangesNotAdjacent = errors.New("query ranges must partition the batch")
)

// Query names one decoding query inside a batched step: its cache, its
// current position, and which rows [Start, End) of the step's token sequence
// belong to it. The ranges of a step's queries partition [0, nt) in order.
type Query struct {
	Cache      *kvcache.Cache
	Pos        int
	Start, End int
}

// Len returns the number of tokens the query contributes to the step.
func (q Query) Len() int { return q.End - q.Start }

// DecodingMeta says a query contributed NumQuery tokens to the step, of
// which only the last NumDecode need logits.
type DecodingMeta struct {
	NumQuery  int
	NumDecode int
}

// SampleMeta carries the sampling arguments for a query's decoded rows.
type SampleMeta struct {
	NumDecode int
	Args      sample.Args
}

// CausalLM is the per-step engine surface. A forward call is synchronous;
// data parallelism lives inside the kernels. Callers sequence steps of the
// same query themselves.
type CausalLM interface {
	MaxSeqLen() int
	EOSToken() int32

	// NewCache allocates a zero-initialized per-query cache.
	NewCache() *kvcache.Cache
	// DuplicateCache copies positions [0, pos) of src into a fresh cache.
	DuplicateCache(src *kvcache.Cache, pos int) *kvcache.Cache

	// TokenEmbed gathers embeddings for a batched token sequence: [nt, d].
	TokenEmbed(ids []int32) *ml.Tensor
	// Forward runs one decode step over x [nt, d] in place and returns it.
	// Query position overflow is reported before any cache is touched.
	Forward(queries []Query, x *ml.Tensor) (*ml.Tensor, error)
	// Decode selects the rows needing logits and projects them: [Σnd, nvoc].
	Decode(meta []DecodingMeta, hidden *ml.Tensor) *ml.Tensor
	// Sample draws one token per decoded row, in row order.
	Sample(meta []SampleMeta, logits *ml.Tensor) []int32
}

// constructors by architecture name.
var models = make(map[string]func(*Storage, *WeightSet) (CausalLM, error))

// Register installs an architecture constructor. It panics on duplicates,
// mirroring the usual once-at-init contract.
func Register(name string, f func(*Storage, *WeightSet) (CausalLM, error)) {
	if _, ok := models[name]; ok {
		panic("model: architecture already registered: " + name)
	}
	models[name] = f
}

// New loads the checkpoint at dir and builds the matching architecture:
// mixtral when the config declares local experts, llama otherwise.
func New(dir string) (CausalLM, error) {
	s, ws, err := LoadStorage(dir)
	if err != nil {
		return nil, err
	}
	arch := "llama"
	if s.Config.NumLocalExperts > 0 {
		arch = "mixtral"
	}
	ctor, ok := models[arch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, arch)
	}
	return ctor(s, ws)
}

// ValidateQueries checks that the query ranges partition [0, nt) in order
// and that no query would outgrow its cache, before anything is mutated.
func ValidateQueries(queries []Query, nt, maxSeqLen int) error {
	at := 0
	for i, q := range queries {
		if q.Start != at || q.End < q.Start {
			return fmt.Errorf("query %d range [%d,%d) at offset %d: %w", i, q.Start, q.End, at, ErrRangesNotAdjacent)
		}
		if q.Pos+q.Len() > maxSeqLen {
			return fmt.Errorf("query %d at position %d with %d tokens exceeds %d: %w",
				i, q.Pos, q.Len(), maxSeqLen, ErrPositionOverflow)
		}
		at = q.End
	}
	if at != nt {
		return fmt.Errorf("queries cover %d of %d tokens: %w", at, nt, ErrRangesNotAdjacent)
	}
	return nil
}

// SelectDecodeRows compacts the rows that need logits toward the front of
// hidden [nt, d] and returns how many there are. Rows only move toward lower
// indices, so the moves are safe in place.
func SelectDecodeRows(hidden *ml.Tensor, metas []DecodingMeta) int {
	es := hidden.DType().Size()
	rowBytes := hidden.Dim(1) * es
	dst, src := 0, 0
	for _, m := range metas {
		first := src + m.NumQuery - m.NumDecode
		for i := range m.NumDecode {
			if first+i != dst {
				from := hidden.Elem(hidden.ElemOffset(first+i, 0))
				to := hidden.Elem(hidden.ElemOffset(dst, 0))
				copy(to[:rowBytes], from[:rowBytes])
			}
			dst++
		}
		src += m.NumQuery
	}
	return dst
}

// SampleTokens draws one token per decoded logits row. Rows are consumed in
// order; each query's rows share its sampling arguments.
func SampleTokens(metas []SampleMeta, logits *ml.Tensor) []int32 {
	var out []int32
	row := 0
	for _, m := range metas {
		sampler := sample.New(m.Args)
		for range m.NumDecode {
			out = append(out, sampler.Sample(logits.Narrow(0, row, 1).Floats()))
			row++
		}
	}
	return out
}
