package strategy

import (
	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
)

// rowPrivateBlock extends rowPrivate: the work-items of a group stage each
// column of B in group-shared memory before reducing against it.
type rowPrivateBlock struct{}

func (rowPrivateBlock) Kind() Kind          { return RowPrivateBlock }
func (rowPrivateBlock) Description() string { return "C row, priv A, B cols loc" }
func (rowPrivateBlock) SourceFile() string  { return "mat_mul_row_priv_block.cl" }

func (rowPrivateBlock) Kernel(source string, plan Plan) gpu.KernelSpec {
	return gpu.KernelSpec{
		Name:     kernelName,
		Source:   source,
		Options:  maxOrderOption(plan.Order),
		Func:     rowPrivateBlockItem,
		Barriers: true,
	}
}

func (rowPrivateBlock) Plan(n int, opts Options) (Plan, error) {
	if err := checkOrder(RowPrivateBlock, n); err != nil {
		return Plan{}, err
	}
	wg, err := workGroupSize(RowPrivateBlock, n, opts)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Order:           n,
		Range:           gpu.Range1D(n).WithLocal(wg),
		Scratch:         []gpu.LocalArg{gpu.LocalArg(n)},
		PrivateFloats:   n,
		BarriersPerItem: 2 * n,
	}, nil
}

func rowPrivateBlockItem(wi *gpu.WorkItem, args []any) {
	n := int(args[0].(int32))
	a, b, c := args[1].([]float32), args[2].([]float32), args[3].([]float32)
	bwrk := args[4].([]float32)

	i := wi.GlobalID(0)
	iloc, nloc := wi.LocalID(0), wi.LocalSize(0)

	awrk := make([]float32, n)
	copy(awrk, a[i*n:(i+1)*n])

	for j := 0; j < n; j++ {
		for k := iloc; k < n; k += nloc {
			bwrk[k] = b[k*n+j]
		}
		wi.Barrier()

		var tmp float32
		for k := 0; k < n; k++ {
			tmp += awrk[k] * bwrk[k]
		}
		c[i*n+j] = tmp
		// bwrk is overwritten for the next column only after every
		// work-item finished reading it.
		wi.Barrier()
	}
}

// tiled computes one BlockSize×BlockSize tile of C per work-group, walking
// the tiles of A's block row and B's block column through shared memory.
type tiled struct{}

func (tiled) Kind() Kind          { return Tiled }
func (tiled) Description() string { return "blocked" }
func (tiled) SourceFile() string  { return "mat_mul_block.cl" }

func (tiled) Kernel(source string, _ Plan) gpu.KernelSpec {
	return gpu.KernelSpec{
		Name:     kernelName,
		Source:   source,
		Func:     tiledItem,
		Barriers: true,
	}
}

func (tiled) Plan(n int, opts Options) (Plan, error) {
	if err := checkOrder(Tiled, n); err != nil {
		return Plan{}, err
	}
	bs, err := blockSize(Tiled, n, opts)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Order:           n,
		Range:           gpu.Range2D(n, n).WithLocal(bs, bs),
		BlockSize:       bs,
		Scratch:         []gpu.LocalArg{gpu.LocalArg(bs * bs), gpu.LocalArg(bs * bs)},
		BarriersPerItem: 2 * (n / bs),
	}, nil
}

func tiledItem(wi *gpu.WorkItem, args []any) {
	n := int(args[0].(int32))
	a, b, c := args[1].([]float32), args[2].([]float32), args[3].([]float32)
	awrk, bwrk := args[4].([]float32), args[5].([]float32)

	col, row := wi.GlobalID(0), wi.GlobalID(1)
	lc, lr := wi.LocalID(0), wi.LocalID(1)
	bs := wi.LocalSize(0)
	colBlk, rowBlk := wi.GroupID(0), wi.GroupID(1)

	var acc float32
	for t := 0; t < n/bs; t++ {
		awrk[lr*bs+lc] = a[(rowBlk*bs+lr)*n+t*bs+lc]
		bwrk[lr*bs+lc] = b[(t*bs+lr)*n+colBlk*bs+lc]
		wi.Barrier()

		for k := 0; k < bs; k++ {
			acc += awrk[lr*bs+k] * bwrk[k*bs+lc]
		}
		wi.Barrier()
	}
	c[row*n+col] = acc
}
