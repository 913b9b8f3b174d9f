package learner

import (
	"fmt"
	"math"
)

// solveLeastSquares solves min ||Ax - b||² through the normal equations with
// a small Tikhonov term for conditioning. Problem sizes here are tiny (a
// handful of coefficients per zone), so a dense solve is plenty.
func solveLeastSquares(rows [][]float64, targets []float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows")
	}
	n := len(rows[0])
	if len(rows) < n {
		return nil, fmt.Errorf("underdetermined system: %d rows for %d coefficients", len(rows), n)
	}

	// AtA and Atb
	ata := make([][]float64, n)
	atb := make([]float64, n)
	for i := range ata {
		ata[i] = make([]float64, n)
	}
	for r, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("ragged row %d", r)
		}
		for i := 0; i < n; i++ {
			atb[i] += row[i] * targets[r]
			for j := 0; j < n; j++ {
				ata[i][j] += row[i] * row[j]
			}
		}
	}

	const ridge = 1e-9
	for i := 0; i < n; i++ {
		ata[i][i] += ridge
	}

	return solveLinear(ata, atb)
}

// solveLinear solves a dense square system with Gaussian elimination and
// partial pivoting.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite solution")
		}
	}
	return x, nil
}
