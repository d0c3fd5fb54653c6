package strategy

import (
	"fmt"

	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
)

// naive computes one element of C per work-item over an N×N range.
type naive struct{}

func (naive) Kind() Kind          { return Naive }
func (naive) Description() string { return "C(i,j) per work item" }
func (naive) SourceFile() string  { return "mat_mul.cl" }

func (naive) Kernel(source string, _ Plan) gpu.KernelSpec {
	return gpu.KernelSpec{Name: kernelName, Source: source, Func: naiveItem}
}

func (naive) Plan(n int, _ Options) (Plan, error) {
	if err := checkOrder(Naive, n); err != nil {
		return Plan{}, err
	}
	return Plan{Order: n, Range: gpu.Range2D(n, n)}, nil
}

func naiveItem(wi *gpu.WorkItem, args []any) {
	n := int(args[0].(int32))
	a, b, c := args[1].([]float32), args[2].([]float32), args[3].([]float32)

	i, j := wi.GlobalID(0), wi.GlobalID(1)
	var tmp float32
	for k := 0; k < n; k++ {
		tmp += a[i*n+k] * b[k*n+j]
	}
	c[i*n+j] = tmp
}

// row computes one full row of C per work-item over a 1D range of N.
type row struct{}

func (row) Kind() Kind          { return Row }
func (row) Description() string { return "C row per work item" }
func (row) SourceFile() string  { return "mat_mul_row.cl" }

func (row) Kernel(source string, _ Plan) gpu.KernelSpec {
	return gpu.KernelSpec{Name: kernelName, Source: source, Func: rowItem}
}

func (row) Plan(n int, _ Options) (Plan, error) {
	if err := checkOrder(Row, n); err != nil {
		return Plan{}, err
	}
	return Plan{Order: n, Range: gpu.Range1D(n)}, nil
}

func rowItem(wi *gpu.WorkItem, args []any) {
	n := int(args[0].(int32))
	a, b, c := args[1].([]float32), args[2].([]float32), args[3].([]float32)

	i := wi.GlobalID(0)
	for j := 0; j < n; j++ {
		var tmp float32
		for k := 0; k < n; k++ {
			tmp += a[i*n+k] * b[k*n+j]
		}
		c[i*n+j] = tmp
	}
}

// rowPrivate computes one row of C per work-item after copying the matching
// row of A into private memory.
type rowPrivate struct{}

func (rowPrivate) Kind() Kind          { return RowPrivate }
func (rowPrivate) Description() string { return "C row, A row in priv mem" }
func (rowPrivate) SourceFile() string  { return "mat_mul_row_priv.cl" }

func (rowPrivate) Kernel(source string, plan Plan) gpu.KernelSpec {
	return gpu.KernelSpec{
		Name:    kernelName,
		Source:  source,
		Options: maxOrderOption(plan.Order),
		Func:    rowPrivateItem,
	}
}

func (rowPrivate) Plan(n int, opts Options) (Plan, error) {
	if err := checkOrder(RowPrivate, n); err != nil {
		return Plan{}, err
	}
	wg, err := workGroupSize(RowPrivate, n, opts)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Order:         n,
		Range:         gpu.Range1D(n).WithLocal(wg),
		PrivateFloats: n,
	}, nil
}

func rowPrivateItem(wi *gpu.WorkItem, args []any) {
	n := int(args[0].(int32))
	a, b, c := args[1].([]float32), args[2].([]float32), args[3].([]float32)

	i := wi.GlobalID(0)
	awrk := make([]float32, n)
	copy(awrk, a[i*n:(i+1)*n])

	for j := 0; j < n; j++ {
		var tmp float32
		for k := 0; k < n; k++ {
			tmp += awrk[k] * b[k*n+j]
		}
		c[i*n+j] = tmp
	}
}

// maxOrderOption sizes the private row of A in the kernel source.
func maxOrderOption(n int) string {
	return fmt.Sprintf("-D MAX_ORDER=%d", n)
}
