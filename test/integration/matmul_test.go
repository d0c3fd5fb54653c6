//go:build integration

package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/jonassorgenfrei/OpenCL/internal/app"
	"github.com/jonassorgenfrei/OpenCL/internal/bench"
	"github.com/jonassorgenfrei/OpenCL/internal/config"
	"github.com/jonassorgenfrei/OpenCL/internal/gpu"
	"github.com/jonassorgenfrei/OpenCL/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestBenchmark_EndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Logger.Verbosity = "debug"
	cfg.Benchmark.Count = 2
	cfg.Benchmark.RunHost = true
	cfg.Metrics.ListenAddress = "127.0.0.1:19091"

	var (
		runner  *bench.Runner
		manager *gpu.Manager
	)
	application := fxtest.New(t,
		fx.Supply(cfg),
		app.Module,
		fx.Populate(&runner, &manager),
	)
	application.RequireStart()
	defer application.RequireStop()

	// The last device is the emulator unless built with -tags opencl.
	devices := manager.Devices()
	require.NotEmpty(t, devices)
	t.Logf("running on %s", manager.GetDeviceInfo().Name)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())

	require.NotNil(t, res.Host)
	assert.True(t, res.Host.Verified())
	for _, sr := range res.Strategies {
		assert.True(t, sr.Verified(), sr.Kind)
		best, ok := sr.Best()
		require.True(t, ok)
		t.Logf("%-18s best %v, %.1f MFLOPS", sr.Kind, best.Duration, best.MFLOPS)
	}

	var buf bytes.Buffer
	report.Results(&buf, res)
	assert.Contains(t, buf.String(), "tiled")

	resp, err := http.Get("http://127.0.0.1:19091/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `matmul_dispatch_mflops{strategy="tiled"}`)
	assert.Contains(t, string(body), "matmul_matrix_order 1024")
}
