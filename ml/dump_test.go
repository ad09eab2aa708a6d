// dump_test.go
package ml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpSmallTensor(t *testing.T) {
	x := FromFloats(DTypeF32, []float32{1, -2, 3, 4}, 2, 2)
	out := Dump(x, DumpWithPrecision(1))
	assert.Contains(t, out, "1.0")
	assert.Contains(t, out, "-2.0")
	assert.True(t, strings.HasPrefix(out, "["))
	assert.True(t, strings.HasSuffix(out, "]"))
}

func TestDumpElidesLongAxes(t *testing.T) {
	x := Zeros(DTypeF32, 100)
	out := Dump(x, DumpWithThreshold(10), DumpWithEdgeItems(2))
	assert.Contains(t, out, "...")
}
