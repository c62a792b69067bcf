package mem

import (
	"math"

	"github.com/trmrsh/cpp-tomog/internal/errs"
)

// mat3 is a dense symmetric 3x3 matrix stored row-major.
type mat3 [9]float64

func (m *mat3) at(i, j int) float64 { return m[i*3+j] }
func (m *mat3) set(i, j int, v float64) {
	m[i*3+j] = v
	m[j*3+i] = v
}

// quadForm returns a^T M a.
func (m *mat3) quadForm(a [3]float64) float64 {
	var out float64
	for i := 0; i < 3; i++ {
		var row float64
		for j := 0; j < 3; j++ {
			row += m.at(i, j) * a[j]
		}
		out += a[i] * row
	}
	return out
}

// addScaled returns m + s*other.
func addScaled3(m, other mat3, s float64) mat3 {
	var out mat3
	for i := range m {
		out[i] = m[i] + s*other[i]
	}
	return out
}

// solveCholesky3 solves M*a = b for the symmetric 3x3 system M via a
// hand-rolled Cholesky factorisation (spec §4.E item 6: the subproblem is
// always 3x3 and symmetric positive-(semi)definite by construction from
// entropy/chi-square inner products, so a general linear-algebra routine
// would be overkill). Returns a NumericFailureError if M is not positive
// definite.
func solveCholesky3(m mat3, b [3]float64) ([3]float64, error) {
	var l mat3 // lower-triangular factor, l*l^T = m

	for i := 0; i < 3; i++ {
		for j := 0; j <= i; j++ {
			var sum float64
			for k := 0; k < j; k++ {
				sum += l[i*3+k] * l[j*3+k]
			}
			if i == j {
				d := m.at(i, i) - sum
				if d <= 0 || math.IsNaN(d) {
					return [3]float64{}, &errs.NumericFailureError{Reason: "3x3 subproblem matrix is not positive definite"}
				}
				l[i*3+j] = math.Sqrt(d)
			} else {
				l[i*3+j] = (m.at(i, j) - sum) / l[j*3+j]
			}
		}
	}

	// Forward solve l*y = b.
	var y [3]float64
	for i := 0; i < 3; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i*3+k] * y[k]
		}
		y[i] = sum / l[i*3+i]
	}

	// Back solve l^T*a = y.
	var a [3]float64
	for i := 2; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < 3; k++ {
			sum -= l[k*3+i] * a[k]
		}
		a[i] = sum / l[i*3+i]
	}

	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [3]float64{}, &errs.NumericFailureError{Reason: "3x3 subproblem solve produced a non-finite coefficient"}
		}
	}
	return a, nil
}
