package bench

import (
	"github.com/fxnlabs/hgemm/internal/gpu"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"
)

// denseFromHalf widens a rows×cols row-major half buffer.
func denseFromHalf(rows, cols int, data []float16.Float16) *mat.Dense {
	return mat.NewDense(rows, cols, gpu.HalfToFloat64(data[:rows*cols]))
}

// Reference computes C = A·B in float64 and rounds it to half. a is M×K
// row-major, b holds B column-major as N rows of K.
func Reference(a, b []float16.Float16, m, n, k int) []float16.Float16 {
	ad := denseFromHalf(m, k, a)
	bt := denseFromHalf(n, k, b)

	var c mat.Dense
	c.Mul(ad, bt.T())
	return gpu.Float64ToHalf(c.RawMatrix().Data)
}
