package matrix

import "fmt"

// Float64ToFloat32 converts a slice of float64 to float32
func Float64ToFloat32(input []float64) []float32 {
	output := make([]float32, len(input))
	for i, v := range input {
		output[i] = float32(v)
	}
	return output
}

// Float32ToFloat64 converts a slice of float32 to float64
func Float32ToFloat64(input []float32) []float64 {
	output := make([]float64, len(input))
	for i, v := range input {
		output[i] = float64(v)
	}
	return output
}

// FromRows converts a square 2D float64 matrix to a Matrix
func FromRows(rows [][]float64) (*Matrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("matrix is empty")
	}

	m := New(n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), n)
		}
		for j, v := range row {
			m.data[i*n+j] = float32(v)
		}
	}
	return m, nil
}

// Rows converts m to a 2D float64 matrix
func (m *Matrix) Rows() [][]float64 {
	rows := make([][]float64, m.n)
	for i := range rows {
		rows[i] = Float32ToFloat64(m.Row(i))
	}
	return rows
}
