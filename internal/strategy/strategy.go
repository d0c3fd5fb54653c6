// Package strategy implements the matrix multiply dispatch strategies. Each
// strategy maps the N×N output onto a different partitioning of parallel work
// and a different use of private and group-shared scratch memory; all of them
// compute the same C = A * B.
package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/matrix"
	"go.uber.org/multierr"
)

// Kind names a dispatch strategy.
type Kind string

const (
	Naive           Kind = "naive"
	Row             Kind = "row"
	RowPrivate      Kind = "row-private"
	RowPrivateBlock Kind = "row-private-block"
	Tiled           Kind = "tiled"
)

// DefaultBlockSize is the tile edge of the blocked strategy.
const DefaultBlockSize = 16

// kernelName is the entry point shared by every kernel source.
const kernelName = "mat_mul"

var (
	ErrInvalidBlockSize = errors.New("block size does not divide matrix order")
	ErrUnknownStrategy  = errors.New("unknown strategy")
)

// Options tune the dispatch configuration. Zero values select defaults.
type Options struct {
	// BlockSize is the tile edge of the blocked strategy.
	BlockSize int
	// WorkGroupSize is the local extent of the row-private strategies.
	WorkGroupSize int
}

// Plan is the dispatch configuration of one strategy for one matrix order.
type Plan struct {
	Order     int
	Range     gpu.NDRange
	BlockSize int
	// Scratch lists the group-shared regions in kernel argument order.
	Scratch []gpu.LocalArg
	// PrivateFloats is the private scratch each work-item needs.
	PrivateFloats   int
	BarriersPerItem int
}

// Args returns the kernel arguments for a dispatch of this plan.
func (p Plan) Args(a, b, c gpu.Buffer) []any {
	args := []any{int32(p.Order), a, b, c}
	for _, s := range p.Scratch {
		args = append(args, s)
	}
	return args
}

// LocalBytes returns the group-shared scratch one work-group uses.
func (p Plan) LocalBytes() int64 {
	var total int64
	for _, s := range p.Scratch {
		total += s.Bytes()
	}
	return total
}

// Strategy is one point of the dispatch design space.
type Strategy interface {
	Kind() Kind
	Description() string
	// SourceFile names the kernel source implementing the strategy.
	SourceFile() string
	// Kernel binds the program source and plan to a KernelSpec.
	Kernel(source string, plan Plan) gpu.KernelSpec
	// Plan sizes the dispatch for order n. Invalid configurations are
	// rejected here, before any device work.
	Plan(n int, opts Options) (Plan, error)
}

var registry = []Strategy{naive{}, row{}, rowPrivate{}, rowPrivateBlock{}, tiled{}}

// All returns every strategy, from the naive baseline to the tiled multiply.
func All() []Strategy {
	return append([]Strategy(nil), registry...)
}

// ByKind returns the strategy named kind.
func ByKind(kind Kind) (Strategy, error) {
	for _, s := range registry {
		if s.Kind() == kind {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
}

// ParseKinds resolves strategy names. An empty list selects every strategy.
func ParseKinds(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return All(), nil
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := ByKind(Kind(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Timing is the measured cost of one dispatch.
type Timing struct {
	Duration time.Duration
	MFLOPS   float64
}

// MFLOPS returns the throughput of an order-n multiply that took d.
func MFLOPS(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	flops := 2.0 * float64(n) * float64(n) * float64(n)
	return flops / (1e6 * d.Seconds())
}

// Dispatch runs kernel once over plan and waits for completion.
func Dispatch(backend gpu.Backend, kernel gpu.Kernel, plan Plan, a, b, c gpu.Buffer) (Timing, error) {
	start := time.Now()
	if err := backend.Enqueue(kernel, plan.Range, plan.Args(a, b, c)...); err != nil {
		return Timing{}, err
	}
	elapsed := time.Since(start)
	return Timing{Duration: elapsed, MFLOPS: MFLOPS(plan.Order, elapsed)}, nil
}

// Multiply computes C = A * B on backend with strategy s: it plans, uploads
// A and B, builds the kernel, dispatches once and reads C back.
func Multiply(backend gpu.Backend, s Strategy, source string, a, b *matrix.Matrix, opts Options) (c *matrix.Matrix, timing Timing, err error) {
	if a.Order() != b.Order() {
		return nil, Timing{}, gpu.Errorf(gpu.KindConfiguration, "multiply", gpu.StatusInvalidValue,
			"matrix dimensions are not compatible for multiplication: %d vs %d", a.Order(), b.Order())
	}
	n := a.Order()

	plan, err := s.Plan(n, opts)
	if err != nil {
		return nil, Timing{}, err
	}

	dA, err := upload(backend, a)
	if err != nil {
		return nil, Timing{}, err
	}
	defer func() { err = multierr.Append(err, dA.Release()) }()

	dB, err := upload(backend, b)
	if err != nil {
		return nil, Timing{}, err
	}
	defer func() { err = multierr.Append(err, dB.Release()) }()

	dC, err := backend.CreateBuffer(gpu.WriteOnly, n*n)
	if err != nil {
		return nil, Timing{}, err
	}
	defer func() { err = multierr.Append(err, dC.Release()) }()

	kernel, err := backend.Build(s.Kernel(source, plan))
	if err != nil {
		return nil, Timing{}, err
	}
	defer func() { err = multierr.Append(err, kernel.Release()) }()

	timing, err = Dispatch(backend, kernel, plan, dA, dB, dC)
	if err != nil {
		return nil, Timing{}, err
	}

	c = matrix.New(n)
	if err := backend.Read(dC, c.Data()); err != nil {
		return nil, Timing{}, err
	}
	return c, timing, nil
}

// Upload copies m into a new read-only device buffer.
func Upload(backend gpu.Backend, m *matrix.Matrix) (gpu.Buffer, error) {
	return upload(backend, m)
}

func upload(backend gpu.Backend, m *matrix.Matrix) (gpu.Buffer, error) {
	buf, err := backend.CreateBuffer(gpu.ReadOnly, len(m.Data()))
	if err != nil {
		return nil, err
	}
	if err := backend.Write(buf, m.Data()); err != nil {
		_ = buf.Release()
		return nil, err
	}
	return buf, nil
}

func checkOrder(kind Kind, n int) error {
	if n <= 0 {
		return gpu.Errorf(gpu.KindConfiguration, "plan "+string(kind), gpu.StatusInvalidGlobalWorkSize, "matrix order must be positive, got %d", n)
	}
	return nil
}

// workGroupSize resolves the local extent of the row-private strategies:
// N/16 when 16 divides N, otherwise the largest divisor of N up to 64.
func workGroupSize(kind Kind, n int, opts Options) (int, error) {
	wg := opts.WorkGroupSize
	if wg == 0 {
		if n%16 == 0 {
			return n / 16, nil
		}
		wg = min(n, 64)
		for n%wg != 0 {
			wg--
		}
		return wg, nil
	}
	if wg < 0 || n%wg != 0 {
		return 0, gpu.Errorf(gpu.KindConfiguration, "plan "+string(kind), gpu.StatusInvalidWorkGroupSize,
			"%w: %d does not divide matrix order %d", gpu.ErrInvalidWorkGroupSize, wg, n)
	}
	return wg, nil
}

// blockSize resolves the tile edge; it must evenly divide N.
func blockSize(kind Kind, n int, opts Options) (int, error) {
	bs := opts.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	if bs < 0 || bs > n || n%bs != 0 {
		return 0, gpu.Errorf(gpu.KindConfiguration, "plan "+string(kind), gpu.StatusInvalidWorkGroupSize,
			"%w: block size %d, order %d", ErrInvalidBlockSize, bs, n)
	}
	return bs, nil
}
