package bench

import (
	"context"
	"math"
	"testing"

	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/matrix"
	"github.com/jonassorgenfrei/OpenCL/internal/strategy"
	"github.com/jonassorgenfrei/OpenCL/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newBackend(t *testing.T) gpu.Backend {
	t.Helper()
	backend := gpu.NewCPUBackend(zaptest.NewLogger(t))
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Cleanup() })
	return backend
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Order = 32
	cfg.Count = 3
	cfg.Options = strategy.Options{BlockSize: 8}
	return cfg
}

func TestRunner_AllStrategies(t *testing.T) {
	backend := newBackend(t)
	cfg := smallConfig()
	cfg.RunHost = true

	runner, err := NewRunner(backend, kernels.NewLoader(""), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, 32, res.Order)
	assert.Equal(t, "CPU", res.Device.Type)

	require.NotNil(t, res.Host)
	assert.Equal(t, HostKind, res.Host.Kind)
	assert.True(t, res.Host.Verified())

	require.Len(t, res.Strategies, len(strategy.All()))
	for i, sr := range res.Strategies {
		assert.Equal(t, strategy.All()[i].Kind(), sr.Kind)
		assert.Len(t, sr.Iterations, cfg.Count, sr.Kind)
		assert.True(t, sr.Verified(), sr.Kind)
		assert.Zero(t, sr.WorstErrSq(), sr.Kind)
		for _, it := range sr.Iterations {
			assert.Equal(t, float32(32*15), it.Report.Expected)
			assert.True(t, it.Product, sr.Kind)
			assert.Nil(t, it.Mismatch, sr.Kind)
		}

		best, ok := sr.Best()
		require.True(t, ok)
		assert.LessOrEqual(t, best.Duration, sr.Mean())
	}
}

func TestRunner_InvalidBlockSizeIsolated(t *testing.T) {
	backend := newBackend(t)
	cfg := smallConfig()
	cfg.Options = strategy.Options{BlockSize: 5}

	runner, err := NewRunner(backend, kernels.NewLoader(""), cfg, zap.NewNop())
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Strategies, 5)

	for _, sr := range res.Strategies {
		if sr.Kind == strategy.Tiled {
			assert.ErrorIs(t, sr.Err, strategy.ErrInvalidBlockSize)
			assert.Equal(t, gpu.KindConfiguration, gpu.KindOf(sr.Err))
			assert.Empty(t, sr.Iterations)
			continue
		}
		assert.True(t, sr.Verified(), sr.Kind)
	}

	errs := multierr.Errors(res.Err())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], strategy.ErrInvalidBlockSize)
}

func TestRunner_FailFast(t *testing.T) {
	backend := newBackend(t)
	cfg := smallConfig()
	cfg.FailFast = true
	cfg.Strategies = []strategy.Strategy{mustKind(t, strategy.Naive), mustKind(t, strategy.Tiled), mustKind(t, strategy.Row)}
	cfg.Options = strategy.Options{BlockSize: 5}

	runner, err := NewRunner(backend, kernels.NewLoader(""), cfg, zap.NewNop())
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Strategies, 2)
	assert.NoError(t, res.Strategies[0].Err)
	assert.Error(t, res.Strategies[1].Err)
}

func TestRunner_MissingSource(t *testing.T) {
	backend := newBackend(t)
	cfg := smallConfig()
	cfg.Strategies = []strategy.Strategy{mustKind(t, strategy.Row)}

	runner, err := NewRunner(backend, kernels.NewLoader(t.TempDir()), cfg, zap.NewNop())
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Strategies, 1)
	assert.Equal(t, gpu.KindResource, gpu.KindOf(res.Strategies[0].Err))
	assert.Error(t, res.Err())
}

func TestRunner_WarnsOutOfTolerance(t *testing.T) {
	backend := newBackend(t)
	cfg := smallConfig()
	cfg.Count = 1
	cfg.Tolerance = 0
	cfg.AVal = float32(math.NaN())
	cfg.Strategies = []strategy.Strategy{mustKind(t, strategy.Row)}

	core, logs := observer.New(zap.WarnLevel)
	runner, err := NewRunner(backend, kernels.NewLoader(""), cfg, zap.New(core))
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())

	sr := res.Strategies[0]
	require.Len(t, sr.Iterations, 1)
	assert.False(t, sr.Verified())
	it := sr.Iterations[0]
	assert.False(t, it.Product)
	require.NotNil(t, it.Mismatch)
	assert.Equal(t, 32*32, it.Mismatch.Deviations)
	assert.Len(t, it.Mismatch.First, maxDeviations)
	assert.Len(t, it.Mismatch.Samples, sampleCount)

	warnings := logs.FilterMessage("Errors in multiplication").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(t, false, fields["product"])
	assert.Equal(t, int64(32*32), fields["deviations"])
	assert.Contains(t, fields, "samples")
	assert.Contains(t, fields, "first_deviations")
}

func patterned(n int) *matrix.Matrix {
	m := matrix.New(n)
	for i := range m.Data() {
		m.Data()[i] = float32(i%5 + 1)
	}
	return m
}

func TestRunner_Check(t *testing.T) {
	const n = 8
	cfg := smallConfig()
	cfg.Order = n
	runner, err := NewRunner(nil, nil, cfg, zap.NewNop())
	require.NoError(t, err)

	constant := matrix.NewStore(n)
	constant.Reset(cfg.AVal, cfg.BVal)
	product, err := matrix.MulNaive(constant.A, constant.B)
	require.NoError(t, err)

	// Non-constant inputs: the constant check fails, the product is right.
	general := &matrix.Store{N: n, A: patterned(n), B: patterned(n).Transpose()}
	generalProduct, err := matrix.MulNaive(general.A, general.B)
	require.NoError(t, err)

	corrupted := product.Clone()
	corrupted.Set(2, 5, corrupted.At(2, 5)+1)

	testCases := []struct {
		name        string
		store       *matrix.Store
		c           *matrix.Matrix
		wantReport  bool
		wantProduct bool
		deviations  int
	}{
		{"correct", constant, product, true, true, 0},
		{"zero result", constant, matrix.New(n), false, false, n * n},
		{"general inputs", general, generalProduct, false, true, 0},
		{"general inputs zero result", general, matrix.New(n), false, false, n * n},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			it := runner.check(tc.store, tc.c, 1)
			assert.Equal(t, tc.wantReport, it.Report.OK())
			assert.Equal(t, tc.wantProduct, it.Product)
			if tc.wantReport && tc.wantProduct {
				assert.True(t, it.OK())
				assert.Nil(t, it.Mismatch)
				return
			}
			assert.False(t, it.OK())
			require.NotNil(t, it.Mismatch)
			assert.Equal(t, tc.deviations, it.Mismatch.Deviations)
			assert.LessOrEqual(t, len(it.Mismatch.First), maxDeviations)
			assert.Len(t, it.Mismatch.Samples, sampleCount)
		})
	}

	t.Run("single corrupted cell", func(t *testing.T) {
		it := runner.check(constant, corrupted, 1)
		assert.False(t, it.Report.OK())
		require.NotNil(t, it.Mismatch)
		require.Equal(t, 1, it.Mismatch.Deviations)
		assert.Equal(t, 2, it.Mismatch.First[0].Row)
		assert.Equal(t, 5, it.Mismatch.First[0].Col)
		assert.InDelta(t, 1, it.Mismatch.First[0].Delta(), 1e-6)
		assert.InDelta(t, 1, it.Mismatch.Reference.ErrSq, 1e-6)
	})

	t.Run("product check disabled", func(t *testing.T) {
		cfg.FreivaldsRounds = 0
		skip, err := NewRunner(nil, nil, cfg, zap.NewNop())
		require.NoError(t, err)
		it := skip.check(general, generalProduct, 1)
		assert.True(t, it.Product)
		assert.False(t, it.OK())
	})
}

func TestRunner_Canceled(t *testing.T) {
	backend := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, err := NewRunner(backend, kernels.NewLoader(""), smallConfig(), zap.NewNop())
	require.NoError(t, err)

	res, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Strategies)
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero order", func(c *Config) { c.Order = 0 }},
		{"zero count", func(c *Config) { c.Count = 0 }},
		{"negative tolerance", func(c *Config) { c.Tolerance = -1 }},
		{"negative freivalds rounds", func(c *Config) { c.FreivaldsRounds = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smallConfig()
			tc.mutate(&cfg)
			_, err := NewRunner(nil, nil, cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestStrategyResult_Empty(t *testing.T) {
	var sr StrategyResult
	_, ok := sr.Best()
	assert.False(t, ok)
	assert.Zero(t, sr.Mean())
	assert.False(t, sr.Verified())
}

func mustKind(t *testing.T, kind strategy.Kind) strategy.Strategy {
	t.Helper()
	s, err := strategy.ByKind(kind)
	require.NoError(t, err)
	return s
}
