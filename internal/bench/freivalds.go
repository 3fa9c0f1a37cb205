package bench

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// halfEpsilon is the unit roundoff of half precision.
const halfEpsilon = 1.0 / 2048

// FreivaldsVerify performs Freivalds' algorithm to probabilistically verify that C = A·Bᵀ,
// where bt stores B transposed (N×K). Returns true if the product is likely correct.
//
// C is compared in half precision, so each row of C·r may deviate from A·(Bᵀ·r) by the
// rounding of the selected entries plus tolerance per selected entry. A wrong product
// passes one iteration with probability at most 1/2.
func FreivaldsVerify(a, bt, c *mat.Dense, iterations int, tolerance float64, rng *rand.Rand) bool {
	m, k := a.Dims()
	n, bk := bt.Dims()
	cm, cn := c.Dims()
	if bk != k || cm != m || cn != n {
		return false
	}

	r := mat.NewVecDense(n, nil)
	var br, abr, cr mat.VecDense
	for i := 0; i < iterations; i++ {
		// Binary vector for simplicity
		for j := 0; j < n; j++ {
			r.SetVec(j, float64(rng.IntN(2)))
		}

		br.MulVec(bt.T(), r)
		abr.MulVec(a, &br)
		cr.MulVec(c, r)

		for row := 0; row < m; row++ {
			var bound float64
			for j := 0; j < n; j++ {
				if r.AtVec(j) != 0 {
					bound += math.Abs(c.At(row, j))*halfEpsilon + tolerance
				}
			}
			if math.Abs(abr.AtVec(row)-cr.AtVec(row)) > bound {
				return false
			}
		}
	}

	return true
}
