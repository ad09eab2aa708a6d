// dump.go - tensor pretty-printing for debugging
package ml

import (
	"math"
	"strconv"
	"strings"
)

// DumpOptions configures tensor dump output format.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the number of decimal places to print.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Precision = n
	}
}

// DumpWithThreshold sets the threshold for printing the entire tensor. If the
// number of elements is less than or equal to this value, the entire tensor
// will be printed. Otherwise, only the beginning and end of each dimension
// will be printed.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Threshold = n
	}
}

// DumpWithEdgeItems sets the number of elements to print at the beginning and
// end of each dimension.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.EdgeItems = n
	}
}

type dumpOptions struct {
	Precision, Threshold, EdgeItems int
}

// Dump renders the logical contents of t in row-major order, eliding the
// middle of long axes.
func Dump(t *Tensor, optsFuncs ...DumpOptions) string {
	opts := dumpOptions{Precision: 4, Threshold: 1000, EdgeItems: 3}
	for _, optsFunc := range optsFuncs {
		optsFunc(&opts)
	}
	if t.Size() <= opts.Threshold {
		opts.EdgeItems = math.MaxInt
	}

	vs := t.Floats()
	var sb strings.Builder
	var f func(shape []int, offset int)
	f = func(shape []int, offset int) {
		prefix := strings.Repeat(" ", t.Rank()-len(shape)+1)
		sb.WriteString("[")
		defer func() { sb.WriteString("]") }()
		if len(shape) == 0 {
			return
		}
		inner := 1
		for _, d := range shape[1:] {
			inner *= d
		}
		for i := 0; i < shape[0]; i++ {
			if i >= opts.EdgeItems && i < shape[0]-opts.EdgeItems {
				sb.WriteString("..., ")
				i = shape[0] - opts.EdgeItems - 1
				continue
			}
			if len(shape) > 1 {
				f(shape[1:], offset+i*inner)
				if i < shape[0]-1 {
					sb.WriteString(",")
					sb.WriteString(strings.Repeat("\n", len(shape)-1))
					sb.WriteString(prefix)
				}
				continue
			}
			text := strconv.FormatFloat(float64(vs[offset+i]), 'f', opts.Precision, 32)
			if len(text) > 0 && text[0] != '-' {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
			if i < shape[0]-1 {
				sb.WriteString(", ")
			}
		}
	}
	f(t.Shape(), 0)

	return sb.String()
}
