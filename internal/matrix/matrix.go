// Package matrix holds the host-resident dense square matrices taking part
// in a multiply.
package matrix

import "fmt"

// Matrix is a dense row-major N×N matrix of float32.
type Matrix struct {
	n    int
	data []float32
}

// New returns a zeroed matrix of order n.
func New(n int) *Matrix {
	return &Matrix{n: n, data: make([]float32, n*n)}
}

// Filled returns a matrix of order n with every element set to v.
func Filled(n int, v float32) *Matrix {
	m := New(n)
	m.Fill(v)
	return m
}

// FromSlice wraps data as a matrix of order n without copying.
func FromSlice(n int, data []float32) (*Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("matrix order must be positive, got %d", n)
	}
	if len(data) != n*n {
		return nil, fmt.Errorf("matrix size mismatch: expected %d, got %d", n*n, len(data))
	}
	return &Matrix{n: n, data: data}, nil
}

// Order returns N.
func (m *Matrix) Order() int { return m.n }

// Data returns the backing row-major slice.
func (m *Matrix) Data() []float32 { return m.data }

func (m *Matrix) At(i, j int) float32 { return m.data[i*m.n+j] }

func (m *Matrix) Set(i, j int, v float32) { m.data[i*m.n+j] = v }

// Row returns row i as a sub-slice of the backing data.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.n : (i+1)*m.n]
}

// Fill sets every element to v.
func (m *Matrix) Fill(v float32) {
	for i := range m.data {
		m.data[i] = v
	}
}

func (m *Matrix) Clone() *Matrix {
	return &Matrix{n: m.n, data: append([]float32(nil), m.data...)}
}

// Transpose returns a new matrix holding the transpose of m.
func (m *Matrix) Transpose() *Matrix {
	t := New(m.n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			t.data[j*m.n+i] = m.data[i*m.n+j]
		}
	}
	return t
}

// Store holds the A, B and C matrices of one benchmark run. A and B are
// inputs, C is fully overwritten by every multiply.
type Store struct {
	N       int
	A, B, C *Matrix
}

// NewStore allocates the three matrices of order n.
func NewStore(n int) *Store {
	return &Store{N: n, A: New(n), B: New(n), C: New(n)}
}

// Reset puts A and B back to their constant fill values and zeroes C.
func (s *Store) Reset(aval, bval float32) {
	s.A.Fill(aval)
	s.B.Fill(bval)
	s.ZeroC()
}

func (s *Store) ZeroC() {
	s.C.Fill(0)
}
