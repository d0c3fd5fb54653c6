package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Reference computes C = A * B sequentially on the host through gonum. It is
// the baseline the device strategies are compared against.
func Reference(a, b *Matrix) (*Matrix, error) {
	if a.n != b.n {
		return nil, fmt.Errorf("matrix dimensions are not compatible for multiplication: %d vs %d", a.n, b.n)
	}
	n := a.n

	da := mat.NewDense(n, n, Float32ToFloat64(a.data))
	db := mat.NewDense(n, n, Float32ToFloat64(b.data))

	var res mat.Dense
	res.Mul(da, db)

	return &Matrix{n: n, data: Float64ToFloat32(res.RawMatrix().Data)}, nil
}

// MulNaive computes C = A * B with the textbook triple loop, accumulating in
// float32 in k order like the device kernels do.
func MulNaive(a, b *Matrix) (*Matrix, error) {
	if a.n != b.n {
		return nil, fmt.Errorf("matrix dimensions are not compatible for multiplication: %d vs %d", a.n, b.n)
	}
	n := a.n
	c := New(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for k := 0; k < n; k++ {
				sum += a.data[i*n+k] * b.data[k*n+j]
			}
			c.data[i*n+j] = sum
		}
	}
	return c, nil
}
