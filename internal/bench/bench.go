// Package bench runs the dispatch strategies repeatedly against constant
// inputs, timing and verifying every iteration.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/matrix"
	"github.com/jonassorgenfrei/OpenCL/internal/metrics"
	"github.com/jonassorgenfrei/OpenCL/internal/strategy"
	"github.com/jonassorgenfrei/OpenCL/internal/verify"
	"github.com/jonassorgenfrei/OpenCL/kernels"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HostKind labels the sequential host baseline in results.
const HostKind strategy.Kind = "host"

const (
	DefaultOrder = 1024
	DefaultCount = 10
	DefaultAVal  = 3.0
	DefaultBVal  = 5.0
	// DefaultFreivaldsRounds bounds the chance of a wrong product passing
	// the probabilistic check to 1/4.
	DefaultFreivaldsRounds = 2
)

const (
	// productTolerance is relative to the magnitude of A(Br).
	productTolerance = 1e-4
	sampleCount      = 5
	maxDeviations    = 8
)

// Config controls one benchmark run.
type Config struct {
	Order      int
	Count      int
	AVal, BVal float32
	Tolerance  float64
	Options    strategy.Options
	Strategies []strategy.Strategy
	// FreivaldsRounds is the number of random vectors every result is
	// checked with as a product of A and B. Zero skips the check.
	FreivaldsRounds int
	// RunHost times the sequential host multiply before the device runs.
	RunHost bool
	// FailFast stops the run at the first failed strategy.
	FailFast bool
}

// DefaultConfig returns the configuration of a full run over every strategy.
func DefaultConfig() Config {
	return Config{
		Order:      DefaultOrder,
		Count:      DefaultCount,
		AVal:       DefaultAVal,
		BVal:       DefaultBVal,
		Tolerance:  verify.DefaultTolerance,
		Strategies: strategy.All(),

		FreivaldsRounds: DefaultFreivaldsRounds,
	}
}

func (c Config) validate() error {
	if c.Order <= 0 {
		return fmt.Errorf("order must be positive, got %d", c.Order)
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative, got %g", c.Tolerance)
	}
	if c.FreivaldsRounds < 0 {
		return fmt.Errorf("freivalds rounds must not be negative, got %d", c.FreivaldsRounds)
	}
	return nil
}

// Iteration is the outcome of one dispatch.
type Iteration struct {
	Duration time.Duration
	MFLOPS   float64
	Report   verify.Report
	// Product is false when the Freivalds check rejected C as A*B.
	Product bool
	// Mismatch is set for results that failed verification.
	Mismatch *Mismatch
}

// OK reports whether the iteration passed every check.
func (it Iteration) OK() bool {
	return it.Report.OK() && it.Product
}

// Mismatch compares a rejected result cell by cell with the host reference
// product.
type Mismatch struct {
	Reference verify.Report
	// Deviations counts the cells whose error alone exceeds the tolerance.
	Deviations int
	First      []verify.Deviation
	Samples    []verify.Sample
}

// StrategyResult collects the iterations of one strategy. Err is set when
// the strategy failed; iterations completed before the failure are kept.
type StrategyResult struct {
	Kind        strategy.Kind
	Description string
	Plan        strategy.Plan
	Iterations  []Iteration
	Err         error
}

// Best returns the fastest iteration.
func (s StrategyResult) Best() (Iteration, bool) {
	if len(s.Iterations) == 0 {
		return Iteration{}, false
	}
	best := s.Iterations[0]
	for _, it := range s.Iterations[1:] {
		if it.Duration < best.Duration {
			best = it
		}
	}
	return best, true
}

// Mean returns the mean iteration duration.
func (s StrategyResult) Mean() time.Duration {
	if len(s.Iterations) == 0 {
		return 0
	}
	var total time.Duration
	for _, it := range s.Iterations {
		total += it.Duration
	}
	return total / time.Duration(len(s.Iterations))
}

// WorstErrSq returns the largest squared error over all iterations.
func (s StrategyResult) WorstErrSq() float64 {
	var worst float64
	for _, it := range s.Iterations {
		if math.IsNaN(it.Report.ErrSq) {
			return it.Report.ErrSq
		}
		worst = math.Max(worst, it.Report.ErrSq)
	}
	return worst
}

// Verified reports whether every iteration ran and passed verification.
func (s StrategyResult) Verified() bool {
	if s.Err != nil || len(s.Iterations) == 0 {
		return false
	}
	for _, it := range s.Iterations {
		if !it.OK() {
			return false
		}
	}
	return true
}

// Result is the outcome of a benchmark run.
type Result struct {
	Device gpu.DeviceInfo
	Order  int
	// Host is the sequential baseline, nil unless requested.
	Host       *StrategyResult
	Strategies []StrategyResult
}

// Err combines the failures of every strategy.
func (r *Result) Err() error {
	var err error
	for _, s := range r.Strategies {
		if s.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", s.Kind, s.Err))
		}
	}
	return err
}

// Runner benchmarks strategies on one backend.
type Runner struct {
	backend gpu.Backend
	loader  *kernels.Loader
	cfg     Config
	logger  *zap.Logger
}

// NewRunner validates cfg and returns a runner over backend.
func NewRunner(backend gpu.Backend, loader *kernels.Loader, cfg Config, logger *zap.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark config: %w", err)
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = strategy.All()
	}
	return &Runner{backend: backend, loader: loader, cfg: cfg, logger: logger.Named("bench")}, nil
}

// Run executes the host baseline when configured and then every strategy in
// order. Strategy failures are recorded on the result; the returned error is
// non-nil only when ctx ends the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	n := r.cfg.Order
	store := matrix.NewStore(n)
	res := &Result{Device: r.backend.GetDeviceInfo(), Order: n}
	metrics.MatrixOrder.Set(float64(n))

	if r.cfg.RunHost {
		host := r.runHost(store)
		res.Host = &host
	}

	for _, s := range r.cfg.Strategies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr := r.runStrategy(ctx, s, store)
		res.Strategies = append(res.Strategies, sr)
		if sr.Err != nil {
			if errors.Is(sr.Err, context.Canceled) || errors.Is(sr.Err, context.DeadlineExceeded) {
				return res, sr.Err
			}
			if r.cfg.FailFast {
				break
			}
		}
	}
	return res, nil
}

func (r *Runner) runHost(store *matrix.Store) StrategyResult {
	n := r.cfg.Order
	store.Reset(r.cfg.AVal, r.cfg.BVal)
	r.logger.Info("Sequential matrix multiply on host", zap.Int("order", n))

	sr := StrategyResult{Kind: HostKind, Description: "sequential, dot product"}
	start := time.Now()
	c, err := matrix.MulNaive(store.A, store.B)
	elapsed := time.Since(start)
	if err != nil {
		sr.Err = err
		return sr
	}
	it := r.check(store, c, 0)
	it.Duration, it.MFLOPS = elapsed, strategy.MFLOPS(n, elapsed)
	sr.Iterations = append(sr.Iterations, it)
	r.logIteration(sr.Kind, it)
	return sr
}

// runStrategy binds the kernel and uploads the inputs once, then runs the
// configured number of iterations.
func (r *Runner) runStrategy(ctx context.Context, s strategy.Strategy, store *matrix.Store) (sr StrategyResult) {
	n := r.cfg.Order
	log := r.logger.With(zap.String("strategy", string(s.Kind())))
	sr = StrategyResult{Kind: s.Kind(), Description: s.Description()}
	defer func() {
		if sr.Err != nil {
			metrics.DispatchFailures.WithLabelValues(string(s.Kind()), gpu.KindOf(sr.Err).String()).Inc()
			log.Error("Strategy failed",
				zap.String("kind", gpu.KindOf(sr.Err).String()),
				zap.Int("code", gpu.CodeOf(sr.Err)),
				zap.String("build_log", gpu.BuildLog(sr.Err)),
				zap.Error(sr.Err))
		}
	}()

	plan, err := s.Plan(n, r.cfg.Options)
	if err != nil {
		sr.Err = err
		return sr
	}
	sr.Plan = plan
	log.Info("Matrix multiply", zap.String("description", s.Description()), zap.Int("order", n), zap.Stringer("range", plan.Range))

	source, err := r.loader.Load(s.SourceFile())
	if err != nil {
		sr.Err = err
		return sr
	}

	kernel, err := r.backend.Build(s.Kernel(source, plan))
	if err != nil {
		sr.Err = err
		return sr
	}
	defer func() { sr.Err = multierr.Append(sr.Err, kernel.Release()) }()

	store.Reset(r.cfg.AVal, r.cfg.BVal)
	dA, err := strategy.Upload(r.backend, store.A)
	if err != nil {
		sr.Err = err
		return sr
	}
	defer func() { sr.Err = multierr.Append(sr.Err, dA.Release()) }()

	dB, err := strategy.Upload(r.backend, store.B)
	if err != nil {
		sr.Err = err
		return sr
	}
	defer func() { sr.Err = multierr.Append(sr.Err, dB.Release()) }()

	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			sr.Err = err
			return sr
		}
		it, err := r.iterate(kernel, plan, store, dA, dB, int64(i+1))
		if err != nil {
			sr.Err = fmt.Errorf("iteration %d: %w", i, err)
			return sr
		}
		sr.Iterations = append(sr.Iterations, it)
		r.logIteration(s.Kind(), it)
	}
	return sr
}

// iterate runs one dispatch into a fresh output buffer and verifies it.
func (r *Runner) iterate(kernel gpu.Kernel, plan strategy.Plan, store *matrix.Store, dA, dB gpu.Buffer, seed int64) (it Iteration, err error) {
	n := r.cfg.Order
	store.Reset(r.cfg.AVal, r.cfg.BVal)

	dC, err := r.backend.CreateBuffer(gpu.WriteOnly, n*n)
	if err != nil {
		return Iteration{}, err
	}
	defer func() { err = multierr.Append(err, dC.Release()) }()
	metrics.DeviceMemoryUsedBytes.Set(float64(3 * n * n * 4))

	timing, err := strategy.Dispatch(r.backend, kernel, plan, dA, dB, dC)
	if err != nil {
		return Iteration{}, err
	}
	if err := r.backend.Read(dC, store.C.Data()); err != nil {
		return Iteration{}, err
	}

	it = r.check(store, store.C, seed)
	it.Duration, it.MFLOPS = timing.Duration, timing.MFLOPS
	return it, nil
}

// check verifies c against the constant fill of the store and, unless
// disabled, as the product of the store's A and B.
func (r *Runner) check(store *matrix.Store, c *matrix.Matrix, seed int64) Iteration {
	it := Iteration{
		Report:  verify.Constant(c, r.cfg.AVal, r.cfg.BVal, r.cfg.Tolerance),
		Product: true,
	}
	if r.cfg.FreivaldsRounds > 0 {
		it.Product = verify.Freivalds(store.A, store.B, c, r.cfg.FreivaldsRounds, productTolerance, seed)
	}
	if !it.OK() {
		it.Mismatch = r.diagnose(store, c)
	}
	return it
}

// diagnose compares c with the gonum reference product of A and B. A cell
// deviates when its error alone exceeds the squared error tolerance.
func (r *Runner) diagnose(store *matrix.Store, c *matrix.Matrix) *Mismatch {
	m := &Mismatch{Samples: verify.Samples(c, sampleCount)}
	want, err := matrix.Reference(store.A, store.B)
	if err != nil {
		r.logger.Warn("Reference multiply failed", zap.Error(err))
		return m
	}
	if m.Reference, err = verify.Against(c, want, r.cfg.Tolerance); err != nil {
		r.logger.Warn("Reference comparison failed", zap.Error(err))
		return m
	}
	devs, err := verify.Deviations(c, want, math.Sqrt(r.cfg.Tolerance))
	if err != nil {
		r.logger.Warn("Reference comparison failed", zap.Error(err))
		return m
	}
	m.Deviations = len(devs)
	m.First = append([]verify.Deviation(nil), devs[:min(len(devs), maxDeviations)]...)
	return m
}

func (r *Runner) logIteration(kind strategy.Kind, it Iteration) {
	label := string(kind)
	metrics.DispatchDuration.WithLabelValues(label).Observe(float64(it.Duration.Microseconds()) / 1000)
	metrics.DispatchMFLOPS.WithLabelValues(label).Set(it.MFLOPS)
	metrics.VerificationErrorSquared.WithLabelValues(label).Set(it.Report.ErrSq)

	fields := []zap.Field{
		zap.String("strategy", label),
		zap.Duration("duration", it.Duration),
		zap.Float64("mflops", it.MFLOPS),
		zap.Float64("errsq", it.Report.ErrSq),
	}
	if !it.OK() {
		fields = append(fields,
			zap.Float64("tolerance", it.Report.Tolerance),
			zap.Float32("expected", it.Report.Expected),
			zap.Bool("product", it.Product))
		if m := it.Mismatch; m != nil {
			fields = append(fields,
				zap.Float64("reference_errsq", m.Reference.ErrSq),
				zap.Int("deviations", m.Deviations),
				zap.Any("first_deviations", m.First),
				zap.Any("samples", m.Samples))
		}
		r.logger.Warn("Errors in multiplication", fields...)
		return
	}
	r.logger.Debug("Iteration complete", fields...)
}
