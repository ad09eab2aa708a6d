// samplers_test.go
package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGreedyArgmax(t *testing.T) {
	s := New(Args{Temperature: 0})
	assert.Equal(t, int32(2), s.Sample([]float32{0.1, 0.2, 5, 0.3}))
	assert.Equal(t, int32(0), s.Sample([]float32{7, 1, 2}))
}

func TestTopKOne(t *testing.T) {
	// top-k of one degenerates to argmax whatever the temperature.
	s := New(Args{Temperature: 0.8, TopK: 1, Seed: 42})
	for range 16 {
		assert.Equal(t, int32(1), s.Sample([]float32{1, 4, 2, 0}))
	}
}

func TestTopPNucleus(t *testing.T) {
	// One token holds nearly all probability mass, so a 0.5 nucleus keeps
	// only that token.
	s := New(Args{Temperature: 1, TopP: 0.5, Seed: 7})
	for range 16 {
		assert.Equal(t, int32(3), s.Sample([]float32{1, 1, 1, 10}))
	}
}

func TestTopKRestrictsSupport(t *testing.T) {
	s := New(Args{Temperature: 1, TopK: 2, Seed: 11})
	for range 32 {
		tok := s.Sample([]float32{5, 4.5, -10, -10})
		assert.Contains(t, []int32{0, 1}, tok)
	}
}

func TestSeededDeterminism(t *testing.T) {
	logits := []float32{0.3, 0.2, 0.5, 0.1, 0.9}
	a := New(Args{Temperature: 1, Seed: 99})
	b := New(Args{Temperature: 1, Seed: 99})
	for range 32 {
		assert.Equal(t, a.Sample(logits), b.Sample(logits))
	}
}

func TestEmptyLogits(t *testing.T) {
	s := New(Args{})
	assert.Equal(t, int32(-1), s.Sample(nil))
}
