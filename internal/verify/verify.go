// Package verify checks multiply results against their expected values.
package verify

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/jonassorgenfrei/OpenCL/internal/matrix"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the accumulated squared error above which a result is
// reported as wrong.
const DefaultTolerance = 0.001

// Report is the outcome of comparing a result against its expected values.
type Report struct {
	Order     int
	ErrSq     float64
	Tolerance float64
	// Expected is the uniform value of a constant check, zero otherwise.
	Expected float32
}

// OK reports whether the accumulated squared error is finite and within
// tolerance.
func (r Report) OK() bool {
	if math.IsNaN(r.ErrSq) || math.IsInf(r.ErrSq, 0) {
		return false
	}
	return r.ErrSq <= r.Tolerance
}

func (r Report) String() string {
	status := "ok"
	if !r.OK() {
		status = "out of tolerance"
	}
	return fmt.Sprintf("errsq=%g tol=%g %s", r.ErrSq, r.Tolerance, status)
}

// Constant checks c against a multiply of matrices filled with aval and
// bval, where every element of C equals N*aval*bval.
func Constant(c *matrix.Matrix, aval, bval float32, tol float64) Report {
	n := c.Order()
	expected := float32(n) * aval * bval
	var errsq float64
	for _, v := range c.Data() {
		d := float64(v) - float64(expected)
		errsq += d * d
	}
	return Report{Order: n, ErrSq: errsq, Tolerance: tol, Expected: expected}
}

// Against checks c element-wise against want.
func Against(c, want *matrix.Matrix, tol float64) (Report, error) {
	if c.Order() != want.Order() {
		return Report{}, fmt.Errorf("matrix order mismatch: got %d, want %d", c.Order(), want.Order())
	}
	var errsq float64
	w := want.Data()
	for i, v := range c.Data() {
		d := float64(v) - float64(w[i])
		errsq += d * d
	}
	return Report{Order: c.Order(), ErrSq: errsq, Tolerance: tol}, nil
}

// Deviation is one cell of a result outside tolerance.
type Deviation struct {
	Row, Col  int
	Got, Want float32
}

func (d Deviation) Delta() float64 {
	return float64(d.Got) - float64(d.Want)
}

// Deviations lists the cells of c whose absolute difference to want exceeds
// tol, in row-major order. NaN cells always deviate.
func Deviations(c, want *matrix.Matrix, tol float64) ([]Deviation, error) {
	if c.Order() != want.Order() {
		return nil, fmt.Errorf("matrix order mismatch: got %d, want %d", c.Order(), want.Order())
	}
	n := c.Order()
	var out []Deviation
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			got, exp := c.At(i, j), want.At(i, j)
			d := math.Abs(float64(got) - float64(exp))
			if d > tol || math.IsNaN(d) {
				out = append(out, Deviation{Row: i, Col: j, Got: got, Want: exp})
			}
		}
	}
	return out, nil
}

// Freivalds probabilistically verifies that C = A * B. Each iteration draws
// a random binary vector r and compares A(Br) with Cr, so a wrong product
// passes all k iterations with probability at most 1/2^k. tol is relative to
// the magnitude of A(Br).
func Freivalds(a, b, c *matrix.Matrix, iterations int, tol float64, seed int64) bool {
	n := a.Order()
	if n == 0 || b.Order() != n || c.Order() != n {
		return false
	}

	da := mat.NewDense(n, n, matrix.Float32ToFloat64(a.Data()))
	db := mat.NewDense(n, n, matrix.Float32ToFloat64(b.Data()))
	dc := mat.NewDense(n, n, matrix.Float32ToFloat64(c.Data()))

	rng := rand.New(rand.NewSource(seed))
	r := mat.NewVecDense(n, nil)
	var br, abr, cr mat.VecDense
	for it := 0; it < iterations; it++ {
		for j := 0; j < n; j++ {
			r.SetVec(j, float64(rng.Intn(2)))
		}
		br.MulVec(db, r)
		abr.MulVec(da, &br)
		cr.MulVec(dc, r)

		for i := 0; i < n; i++ {
			want, got := abr.AtVec(i), cr.AtVec(i)
			if math.Abs(want-got) > tol*(1+math.Abs(want)) || math.IsNaN(got) {
				return false
			}
		}
	}
	return true
}

// Sample is one cell of a result, kept for logs.
type Sample struct {
	Row   int     `json:"row"`
	Col   int     `json:"col"`
	Value float32 `json:"value"`
}

// Samples returns up to count cells of c at the first, middle, last, quarter
// and three-quarter positions.
func Samples(c *matrix.Matrix, count int) []Sample {
	n := c.Order()
	count = max(count, 0)
	samples := make([]Sample, 0, count)
	if n == 0 {
		return samples
	}

	positions := [][2]int{
		{0, 0},
		{n / 2, n / 2},
		{n - 1, n - 1},
		{n / 4, n / 4},
		{3 * n / 4, 3 * n / 4},
	}
	for i := 0; i < count && i < len(positions); i++ {
		row, col := positions[i][0], positions[i][1]
		samples = append(samples, Sample{Row: row, Col: col, Value: c.At(row, col)})
	}
	return samples
}
